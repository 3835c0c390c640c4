package tui

// UI Text Constants
const (
	TextFooterList    = "j/k move | enter open | n load more | r new session | q quit"
	TextFooterDetail  = "esc back | q quit"
	TextFooterLoading = "loading..."
	TextEndOfFeed     = "end of feed"
)
