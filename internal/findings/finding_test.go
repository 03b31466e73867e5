package findings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFormat(t *testing.T) {
	t.Parallel()

	out, err := Encode([]Finding{{
		PageURL:      "p2",
		BrokenImages: []string{"https://x/broken.png?a=1&b=2"},
	}})
	require.NoError(t, err)

	want := "[\n" +
		"  {\n" +
		"    \"pageUrl\": \"p2\",\n" +
		"    \"brokenImages\": [\n" +
		"      \"https://x/broken.png?a=1&b=2\"\n" +
		"    ]\n" +
		"  }\n" +
		"]"
	require.Equal(t, want, string(out))
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	out, err := Encode(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(out))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	entries, err := Decode([]byte("  \n"))
	require.NoError(t, err)
	require.Empty(t, entries)
	require.NotNil(t, entries)

	entries, err = Decode([]byte(`[{"pageUrl":"a","brokenImages":["x","y"]}]`))
	require.NoError(t, err)
	require.Equal(t, []Finding{{PageURL: "a", BrokenImages: []string{"x", "y"}}}, entries)

	_, err = Decode([]byte(`{"pageUrl":"a"}`))
	require.Error(t, err)
}

func TestNewFindingCopiesImages(t *testing.T) {
	t.Parallel()

	images := []string{"a.png"}
	f, err := NewFinding("p", images)
	require.NoError(t, err)
	images[0] = "mutated"
	require.Equal(t, "a.png", f.BrokenImages[0])

	_, err = NewFinding("p", nil)
	require.ErrorIs(t, err, ErrEmptyFinding)
}
