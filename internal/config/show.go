package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	ew.printf("[hub]\n")
	ew.printf("  origin          = %q\n", r.Hub.Origin)
	ew.printf("  function_name   = %q\n", r.Hub.FunctionName)
	ew.printf("  project_id      = %q\n", r.Hub.ProjectID)
	ew.printf("  folder_id       = %q\n", r.Hub.FolderID)
	ew.printf("  table_id        = %q\n\n", r.Hub.TableID)

	ew.printf("[auth]\n")
	ew.printf("  client_id       = %q\n", r.Auth.ClientID)
	ew.printf("  flow            = %q\n", r.Auth.Flow)
	ew.printf("  redirect_path   = %q\n", r.Auth.RedirectPath)
	ew.printf("  scopes          = [%s]\n\n", quoteJoin(r.Auth.Scopes))

	steps := make([]string, len(r.Schedule))
	for i, d := range r.Schedule {
		steps[i] = d.String()
	}

	ew.printf("[poll]\n")
	ew.printf("  schedule        = [%s]  # total %s\n\n", quoteJoin(steps), r.TotalPollWait())

	ew.printf("[transfers]\n")
	ew.printf("  bandwidth_limit = %d  # bytes/s, 0 = unlimited\n", r.BandwidthLimit)
	ew.printf("  max_file_size   = %d\n\n", r.MaxFileSize)

	ew.printf("[logging]\n")
	ew.printf("  log_level       = %q\n", r.LogLevel)
	ew.printf("  log_format      = %q\n\n", r.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  timeout         = %q\n", r.Timeout.String())
	ew.printf("  user_agent      = %q\n\n", r.UserAgent)

	ew.printf("# session: %s\n", r.SessionPath)
	ew.printf("# ledger:  %s\n", r.LedgerPath)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func quoteJoin(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
