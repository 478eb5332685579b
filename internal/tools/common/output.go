package common

import (
	"encoding/json"
	"fmt"
	"os"
)

// CIResult is the machine-readable outcome a tool prints in --ci mode. CI
// jobs parse it instead of scraping the interactive output.
type CIResult struct {
	OK      bool     `json:"ok"`
	Title   string   `json:"title"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func PrintCIResult(ok bool, title string, details []string, err error) {
	res := CIResult{OK: ok, Title: title, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	out, marshalErr := json.Marshal(res)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "marshal ci result: %v\n", marshalErr)
		return
	}
	fmt.Fprintln(os.Stdout, string(out))
}
