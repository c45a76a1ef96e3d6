// Package wppconnect implements the WPPConnect fallback transport provider.
//
// WPPConnect exposes only a REST surface, so the connection polls
// status-session for lifecycle transitions and unread-messages for inbound
// traffic instead of consuming a push stream. Interactive and button
// formats are unsupported and reported as such, letting the outbound
// gateway degrade to plain text.
package wppconnect
