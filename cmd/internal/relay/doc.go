// Package relay connects the execution contexts of the assistant to the
// session authority.
//
// Router answers action requests (signIn, signOut, getDocumentContent,
// sessionState) with exactly one response each. Fanout pushes one-way
// notifications (session changes, sign-in prompts) to every connected
// context. WSGateway is the WebSocket transport both run over.
package relay
