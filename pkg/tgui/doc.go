// Package tgui has small Telegram UI helpers: HTML escaping, a message
// builder with HTML defaults, inline keyboards and callback data in the
// "scope:action:payload" form.
package tgui
