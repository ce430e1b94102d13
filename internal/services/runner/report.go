package runner

import (
	"fmt"
	"strings"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/fgeck/couchdb-backup/internal/services/accounting"
)

// ComposeMessage renders the run summary sent to notifiers. A successful run lists one
// line per database in configured order followed by the directory total. A failed run
// only names the failed step; the cause is in the logs.
func ComposeMessage(result *models.RunResult) string {
	if !result.Success {
		step := result.FailedStep
		if step == "" {
			step = "unknown"
		}
		return fmt.Sprintf("Backup failed during %s step. Check the logs for details.", step)
	}

	var b strings.Builder
	for _, o := range result.Outcomes {
		if o.Record == nil {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", o.Database, accounting.FormatMB(o.Record.SizeBytes))
	}

	total := "unknown"
	if result.DirectorySize >= 0 {
		total = accounting.FormatMB(result.DirectorySize)
	}
	fmt.Fprintf(&b, "Total backup directory size: %s", total)

	return b.String()
}
