package inspector

// scrollScript scrolls the window in fixed steps until the distance travelled
// reaches the document height minus the viewport, or a bound is hit.
const scrollScript = `async (opts) => {
  const started = Date.now();
  return await new Promise((resolve) => {
    let total = 0;
    let steps = 0;
    const timer = setInterval(() => {
      const scrollHeight = document.body ? document.body.scrollHeight : 0;
      window.scrollBy(0, opts.step);
      total += opts.step;
      steps += 1;
      if (total >= scrollHeight - window.innerHeight) {
        clearInterval(timer);
        resolve({ steps: steps, reachedBottom: true });
        return;
      }
      const outOfSteps = opts.maxSteps > 0 && steps >= opts.maxSteps;
      const outOfTime = opts.maxDurationMs > 0 && Date.now() - started >= opts.maxDurationMs;
      if (outOfSteps || outOfTime) {
        clearInterval(timer);
        resolve({ steps: steps, reachedBottom: false });
      }
    }, opts.intervalMs);
  });
}`

// extractScript classifies document.images and promotes data-src/data-srcset
// into src/srcset. opts.order decides which happens first.
const extractScript = `async (opts) => {
  const rewrite = () => {
    const lazy = document.querySelectorAll('[data-src], [data-srcset]');
    lazy.forEach((el) => {
      el.src = el.dataset.src || el.src;
      el.srcset = el.dataset.srcset || el.srcset;
    });
    return lazy.length;
  };
  const classify = () => Array.from(document.images)
    .filter((img) => !img.complete || img.naturalWidth === 0)
    .map((img) => img.src);

  if (opts.order !== 'rewrite_first') {
    const broken = classify();
    return { broken: broken, lazyRewritten: rewrite() };
  }

  const rewritten = rewrite();
  const pending = Array.from(document.images).filter((img) => !img.complete);
  if (pending.length > 0 && opts.settleMs > 0) {
    const settled = pending.map((img) => new Promise((done) => {
      if (img.complete) {
        done();
        return;
      }
      img.addEventListener('load', done, { once: true });
      img.addEventListener('error', done, { once: true });
    }));
    await Promise.race([
      Promise.all(settled),
      new Promise((done) => setTimeout(done, opts.settleMs)),
    ]);
  }
  return { broken: classify(), lazyRewritten: rewritten };
}`

type scrollArgs struct {
	Step          int   `json:"step"`
	IntervalMs    int64 `json:"intervalMs"`
	MaxSteps      int   `json:"maxSteps"`
	MaxDurationMs int64 `json:"maxDurationMs"`
}

type scrollResult struct {
	Steps         int  `json:"steps"`
	ReachedBottom bool `json:"reachedBottom"`
}

type extractArgs struct {
	Order    string `json:"order"`
	SettleMs int64  `json:"settleMs"`
}

type extractResult struct {
	Broken        []string `json:"broken"`
	LazyRewritten int      `json:"lazyRewritten"`
}
