package brain

import (
	"log/slog"

	"github.com/poiesic/kbingest/core"
)

// PageNumber returns the page a character offset falls on.
// Pages are scanned in order. An offset before a page's end that is not inside
// any earlier page is attributed to that page; an offset past every page is
// attributed to the last one.
func PageNumber(start int, positions []core.PagePosition, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	page := 0
	for i, pos := range positions {
		page = i
		if pos.Start <= start && start <= pos.End {
			return i
		}
		if start <= pos.End {
			logger.Info("wrong page start", "offset", start, "page", i, "page_start", pos.Start)
			return i
		}
	}
	logger.Error("offset beyond last page", "offset", start, "pages", len(positions))
	return page
}
