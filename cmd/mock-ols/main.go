package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/bigbio/sdrf-validate/pkg/mockols"
	flag "github.com/spf13/pflag"
)

func main() {
	addr := defaultString("MOCK_OLS_ADDR", ":8080")
	fixture := defaultString("MOCK_OLS_FIXTURE", "")
	token := defaultString("MOCK_OLS_TOKEN", "")

	fs := flag.NewFlagSet("mock-ols", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&fixture, "fixture", fixture, "YAML taxonomy fixture (terms with labels, iris and ancestors)")
	fs.StringVar(&token, "token", token, "Require this bearer token on every request")
	_ = fs.Parse(os.Args[1:])

	srv := mockols.New()
	if strings.TrimSpace(fixture) != "" {
		f, err := os.Open(fixture)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "open fixture: %v\n", err)
			os.Exit(1)
		}
		terms, err := mockols.LoadFixture(f)
		_ = f.Close()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", fixture, err)
			os.Exit(1)
		}
		for _, t := range terms {
			srv.AddTerm(t)
		}
	}
	srv.RequireBearerToken(token)

	_, _ = fmt.Fprintf(os.Stdout, "mock-ols listening on %s (fixture=%s)\n", addr, fixture)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
