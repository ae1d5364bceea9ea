// Package audit records what the bridge did and what went wrong.
//
// It owns three tables:
//   - user_configs: every command issued through the API, with its outcome
//   - general_errors: failures from background work, truncated to 255 characters
//   - trf_project: the single project row holding the ingest task id
package audit
