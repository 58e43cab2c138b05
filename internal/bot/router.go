package bot

import (
	"context"

	"github.com/mymmrac/telego"

	"gmailfarm-bot/internal/session"
)

type InputKind int

const (
	KindText InputKind = iota
	KindCommand
	KindPhoto
	KindCallback
)

// Input is one inbound update reduced to what the handlers need.
type Input struct {
	UserID     int64
	ChatID     int64
	Username   string
	Kind       InputKind
	Action     string
	Args       []string
	Text       string
	PhotoID    string
	CallbackID string
}

// Arg returns the i-th argument or "".
func (in *Input) Arg(i int) string {
	if i < len(in.Args) {
		return in.Args[i]
	}
	return ""
}

// Reply is one outbound message. A reply with PhotoID is sent as a photo
// with Text as its caption.
type Reply struct {
	ChatID  int64
	Text    string
	PhotoID string
	Markup  telego.ReplyMarkup
}

type HandlerFunc func(ctx context.Context, in *Input, sess *session.Session) ([]Reply, error)

type route struct {
	handle HandlerFunc
	admin  bool
	reset  bool
}

type stateKey struct {
	state session.State
	kind  InputKind
}

// Router resolves an input to a handler. Named actions win over the
// session state; menu actions drop whatever flow the user was in.
type Router struct {
	sessions *session.Store
	isAdmin  func(int64) bool
	actions  map[string]route
	states   map[stateKey]HandlerFunc
	fallback HandlerFunc
}

func NewRouter(sessions *session.Store, isAdmin func(int64) bool) *Router {
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	return &Router{
		sessions: sessions,
		isAdmin:  isAdmin,
		actions:  make(map[string]route),
		states:   make(map[stateKey]HandlerFunc),
		fallback: func(context.Context, *Input, *session.Session) ([]Reply, error) { return nil, nil },
	}
}

// Action registers a step inside a flow. The session is left as it is.
func (r *Router) Action(name string, h HandlerFunc) {
	r.actions[name] = route{handle: h}
}

// Menu registers an entry point. The session is cleared before h runs.
func (r *Router) Menu(name string, h HandlerFunc) {
	r.actions[name] = route{handle: h, reset: true}
}

// Admin registers an admin-only entry point.
func (r *Router) Admin(name string, h HandlerFunc) {
	r.actions[name] = route{handle: h, admin: true, reset: true}
}

// State registers the handler for input of kind arriving in state.
func (r *Router) State(state session.State, kind InputKind, h HandlerFunc) {
	r.states[stateKey{state, kind}] = h
}

func (r *Router) Fallback(h HandlerFunc) {
	r.fallback = h
}

func (r *Router) Dispatch(ctx context.Context, in *Input) ([]Reply, error) {
	sess, err := r.sessions.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if rt, ok := r.actions[in.Action]; ok && in.Action != "" {
		if rt.admin && !r.isAdmin(in.UserID) {
			return r.fallback(ctx, in, sess)
		}
		if rt.reset && sess.State != session.Idle {
			if err := r.sessions.Clear(ctx, in.UserID); err != nil {
				return nil, err
			}
			sess = &session.Session{UserID: in.UserID}
		}
		return rt.handle(ctx, in, sess)
	}

	if h, ok := r.states[stateKey{sess.State, in.Kind}]; ok {
		return h(ctx, in, sess)
	}
	// Unknown commands typed mid-flow, such as /skip, are treated as text.
	if in.Kind == KindCommand {
		if h, ok := r.states[stateKey{sess.State, KindText}]; ok {
			return h(ctx, in, sess)
		}
	}
	return r.fallback(ctx, in, sess)
}
