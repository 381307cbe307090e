// Package sender is the boundary to the external mail-automation service.
//
// Drivers:
//   - zoho: per-recipient CRM function invoke replaying stored session
//     cookies/headers (the dashboard's primary transport)
//   - smtp: direct SMTP via gomail
//   - mock: scriptable fake for tests and dry runs
package sender
