// Package migrations embeds the schema migrations for the jobs and
// usage_daily tables plus the reserve_quota/adjust_quota_usage procedures.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
