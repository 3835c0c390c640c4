package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"scrollfeed/demo/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	apiURL := flag.String("api", envOr("SCROLLFEED_URL", "http://localhost:8080"), "Feed API base URL")
	user := flag.String("user", envOr("SCROLLFEED_USER", "demo"), "User id sent as X-User-ID")
	limit := flag.Int("limit", 10, "Items per batch")
	flag.Parse()

	program := tea.NewProgram(tui.NewModel(*apiURL, *user, *limit), tea.WithAltScreen())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
