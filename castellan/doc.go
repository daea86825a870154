// Package castellan implements a Discord community-management bot centered
// on application panels and member verification.
//
// Castellan lets guild administrators publish application panels (ordered
// question sets presented to applicants as paginated modal forms) and
// verification prompts (emoji/image challenges that gate a member role).
// Completed applications are persisted for audit and surfaced to reviewers
// as accept/deny prompts; decisions are recorded exactly once and trigger
// best-effort side effects such as role grants and applicant notifications.
//
// Key components of the package include:
//
//   - Castellan: The main struct that encapsulates the bot's core functionality.
//   - Discord: Handles Discord integration and interaction dispatch.
//   - PanelRegistry: Caches per-guild panel and verification definitions.
//   - FormPaginator: Drives multi-page application form collection.
//   - ChallengeEngine: Generates and evaluates verification challenges.
//   - ReviewWorkflow: Records submissions and applies reviewer decisions.
//   - API: Provides a backend API for reviewing applications.
//   - Database: Handles data persistence and retrieval.
//
// The bot supports various commands:
//
//   - /applications: Create, list and delete application panels.
//   - /verification: Configure the guild's verification prompt.
//   - /sticky: Pin a recurring message to a channel.
//
// Castellan also includes rate limiting for outbound notifications, an
// interaction journal, and extensive logging to ensure smooth operation
// and easy troubleshooting.
package castellan
