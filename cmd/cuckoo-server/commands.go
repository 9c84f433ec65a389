package main

// commands creates a new router and registers all the application's command handlers.
// This is the single source of truth for what commands the server supports.
func (app *application) commands() *Router {
	router := NewRouter()

	// Generic Commands
	router.Handle("PING", app.handlePing)
	router.Handle("DEL", app.handleDel)
	router.Handle("MEMORY", app.handleMemory)

	// Persistence Control
	router.Handle("COMPACT", app.handleCompact)

	// Metrics
	router.Handle("INFO", app.handleInfo)

	// Cuckoo Filters
	router.Handle("CF.RESERVE", app.handleReserve)
	router.Handle("CF.ADD", app.handleAdd)
	router.Handle("CF.MADD", app.handleMAdd)
	router.Handle("CF.EXISTS", app.handleExists)
	router.Handle("CF.MEXISTS", app.handleMExists)
	router.Handle("CF.DEL", app.handleCFDel)
	router.Handle("CF.INFO", app.handleCFInfo)
	router.Handle("CF.MERGE", app.handleMerge)

	return router
}
