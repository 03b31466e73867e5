// Package crawl walks the configured sitemaps page by page, inspecting each
// page in a shared browser session and recording broken images in a findings
// log. The walk is strictly sequential.
package crawl
