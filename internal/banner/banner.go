package banner

import (
	"fmt"
	"io"
	"strings"
)

const banner = `
                                 _   _  __
   __ _  ___  ___  _ __   ___ | |_(_)/ _|_   _
  / _' |/ _ \/ _ \| '_ \ / _ \| __| | |_| | | |
 | (_| |  __/ (_) | | | | (_) | |_| |  _| |_| |
  \__, |\___|\___/|_| |_|\___/ \__|_|_|  \__, |
  |___/                                  |___/
`

type StartupInfo struct {
	Version  string
	Addr     string
	LogLevel string
	Dispatch string
	Broker   bool
}

func PrintBanner(w io.Writer, info StartupInfo) {
	fmt.Fprint(w, banner)
	fmt.Fprintf(w, "                                     v%s\n\n", info.Version)

	width := 50
	broker := "in-process"
	if info.Broker {
		broker = "redis"
	}
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", width))
	fmt.Fprintf(w, "  → Address:   http://%s\n", formatAddr(info.Addr))
	fmt.Fprintf(w, "  → Log Level: %s\n", info.LogLevel)
	fmt.Fprintf(w, "  → Dispatch:  %s\n", info.Dispatch)
	fmt.Fprintf(w, "  → Broker:    %s\n", broker)
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", width))
	fmt.Fprintln(w)
}

func formatAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
