// Package main hosts the coin-id CLI entrypoint and command graph.
//
// The Cobra command tree covers screen calibration (calibrate, measure, circle,
// references), photo identification, session maintenance, the Telegram bot
// and configuration scaffolding. Configuration, logging and the session store
// are resolved once per invocation in commandContext.
package main
