// Package redact removes payment and credential details from vendor email
// content before it leaves the process, for example when a thread is sent
// to an external extraction model.
package redact
