package main

import (
	"io"
	"strings"
)

// handlerFunc is the signature every command handler implements: write a
// response for args (the command name itself stripped off) to w.
type handlerFunc func(w io.Writer, args []string)

// Router is a simple case-insensitive command name to handler dispatch
// table, the same flat map-of-name-to-closure shape the teacher's
// command set implies at every call site (app.router.Dispatch) without
// the dispatch table itself appearing in the retrieval pack.
type Router struct {
	handlers map[string]handlerFunc
}

// NewRouter returns an empty Router ready for Handle registrations.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]handlerFunc)}
}

// Handle registers fn as the handler for name. Command names are matched
// case-insensitively, since RESP/inline clients may send either case.
func (r *Router) Handle(name string, fn handlerFunc) {
	r.handlers[strings.ToUpper(name)] = fn
}

// Dispatch looks up parts[0] as a command name and invokes its handler
// with the remaining elements as arguments. An empty parts writes nothing
// and is not counted; an unknown command name is counted in TotalCommands
// and answered with a RESP error.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}

	app.metrics.TotalCommands.Add(1)

	name := strings.ToUpper(parts[0])
	handler, ok := r.handlers[name]
	if !ok {
		_ = app.writeErrorResponse(w, "ERR unknown command '"+parts[0]+"'")
		return
	}

	handler(w, parts[1:])
}
