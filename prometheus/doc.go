// Package prometheus implements a single-guild Discord bot that presents a
// digital artifact portfolio and runs the community workflows around it.
//
// Prometheus serves slash commands and button interactions that render the
// portfolio catalogs (assets, clients, collaborations) as rich embeds,
// manages a support ticket workflow with HTML transcripts, tracks an
// invite-referral reward ledger, and reports CI/CD deployments through a
// Discord webhook driven by a small HTTP listener.
//
// Key components of the package include:
//
//   - Prometheus: The main struct that encapsulates the bot's core
//     functionality and lifecycle.
//   - Discord: Wraps the gateway session and command registration.
//   - CatalogStore: Loads and serves the JSON portfolio catalogs.
//   - TicketManager: Drives the ticket channel workflow and transcripts.
//   - InviteLedger: The persistent invite-referral reward ledger.
//   - WelcomeManager: The welcome embeds, access role and commission status.
//   - DeployMonitor / DeployAPI: The deployment notifier and its HTTP
//     listener.
//   - FixedWindowLimiter: Per-user interaction rate limiting.
//
// Command categories:
//
//   - Presentation: /present, /work, /client, /whois, /identity, /channel.
//   - Catalog: /list-assets, /list-clients, /list-collabs, /search, /reload,
//     /backup.
//   - Information: /ping, /help, /stats, /rules, /payment, /pricing, /skill.
//   - Community: /credits, /member, /com, /warning, /finish and the
//     setup-* configuration commands.
//
// All interactions are audited to a sqlite database, rate limited per user
// with an administrator bypass, and logged with structured logging
// throughout.
package prometheus
