// Package valet is the core of a conversational assistant that augments a
// live dialogue with long-term memory and mediates delegated access to a
// user's email and calendar.
//
// The surrounding voice pipeline (speech recognition, turn detection, the
// language model itself) is an external collaborator called the Conversation
// Engine. It drives a per-user [Session]: at session start it asks for a
// greeting instruction, before generating each reply it lets the session
// inject remembered facts into the turn context, and after each user turn it
// hands the utterance back for persistence. Tools are surfaced to the engine
// through the session's [ToolRegistry].
//
// # Quick Start
//
//	store := credsqlite.New("valet.db")
//	memory := valet.NewMemoryManager(valet.WithMemoryRetry(mem0.New(apiKey)))
//	email := valet.NewConnector(valet.IntegrationEmail, emailOAuth, store)
//	calendar := valet.NewConnector(valet.IntegrationCalendar, calOAuth, store)
//
//	session := valet.NewSession("user-123", memory)
//	session.AddTool(emailtool.New(email, gmail, emailtool.WithMemory(memory)))
//	session.AddTool(caltool.New(calendar, gcal, caltool.WithTimezone("America/New_York")))
//
//	greeting := session.Greeting(ctx)          // session start
//	session.BeforeReply(ctx, turnCtx, text)    // before every reply
//	session.AfterReply(ctx, text)              // after every user turn
//
// # Core Interfaces
//
//   - [MemoryClient] — remote semantic memory store (memory/mem0 provides an
//     HTTP implementation)
//   - [CredentialStore] — durable per-(user, integration) token storage
//     (credstore/sqlite, credstore/postgres)
//   - [Connector] — OAuth credential lifecycle for one integration
//   - [EmailService], [CalendarService] — remote productivity APIs
//     (google provides REST implementations)
//   - [Tool] — pluggable capability dispatched by name (tools/email,
//     tools/calendar)
//
// Memory is strictly best-effort: retrieval or persistence failures degrade
// the conversation (no injection, generic greeting) but never surface to the
// user or abort a turn. Credential and remote-operation failures translate
// into distinct spoken messages so the user knows whether to reconnect,
// retry, or rephrase.
package valet
