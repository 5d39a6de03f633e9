// Package fbot implements a Discord bot which relays user messages to
// external text-generation providers (Google Gemini via its REST API, and
// Together AI's chat-completions endpoint), and delivers the generated
// answers back to Discord as chained embed or plain-text messages.
//
// Besides one-shot `f.<model>` prefix commands, the bot supports exclusive
// per-channel chat sessions (started with /aichat, ended with /endchat) whose
// idle sessions are swept in the background, and an attachment pipeline that
// reduces uploaded files (source/text, images via OCR, PDF and Office
// documents) to bounded plain text folded into the prompt.
package fbot
