// Package api serves the REST façade, the MCP endpoint, metrics and the
// static UI from one gorilla/mux router.
package api

import (
	"context"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/jamesprial/virtweb/internal/auth"
	"github.com/jamesprial/virtweb/internal/hypervisor"
	"github.com/jamesprial/virtweb/internal/metrics"
	"github.com/jamesprial/virtweb/internal/network"
	"github.com/jamesprial/virtweb/internal/safety"
	"github.com/jamesprial/virtweb/internal/storage"
	"github.com/jamesprial/virtweb/internal/vm"
)

const routeStatic = "static"

// HostInfo describes the hypervisor host.
type HostInfo interface {
	Info(ctx context.Context) (*hypervisor.Info, error)
}

// Options wires the server. VMs, Storage, Network and Host are required;
// every other field is optional.
type Options struct {
	VMs     vm.Service
	Storage storage.Lister
	Network network.Lister
	Host    HostInfo

	Filter *safety.Filter
	Audit  *safety.AuditLogger
	// AuthToken guards /api and the MCP endpoint when set.
	AuthToken string

	Metrics     *metrics.Metrics
	MetricsPath string

	MCP     http.Handler
	MCPPath string

	// UI serves every path no route claims. Nil answers 404.
	UI http.Handler

	Logger hclog.Logger
}

// Server is the HTTP surface of virtweb.
type Server struct {
	vms     vm.Service
	storage storage.Lister
	network network.Lister
	host    HostInfo

	filter  *safety.Filter
	audit   *safety.AuditLogger
	metrics *metrics.Metrics
	log     hclog.Logger

	handler http.Handler
}

// NewServer builds the router described by opts.
func NewServer(opts Options) *Server {
	s := &Server{
		vms:     opts.VMs,
		storage: opts.Storage,
		network: opts.Network,
		host:    opts.Host,
		filter:  opts.Filter,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	if s.log == nil {
		s.log = hclog.NewNullLogger()
	}

	r := mux.NewRouter()
	r.Use(captureRoute)
	authMW := mux.MiddlewareFunc(auth.NewAuthMiddleware(opts.AuthToken, s.log.Named("auth")))

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet, http.MethodHead)

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	if opts.MCP != nil {
		path := opts.MCPPath
		if path == "" {
			path = "/mcp"
		}
		r.Handle(path, authMW(opts.MCP))
	}

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(authMW)
	apiRouter.HandleFunc("/vm", s.listVMs).Methods(http.MethodGet)
	apiRouter.HandleFunc("/vm", s.defineVM).Methods(http.MethodPost)
	apiRouter.HandleFunc("/vm/{name}", s.deleteVM).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/vm/{name}/start", s.vmAction(vm.ActionStart, s.vms.Start)).Methods(http.MethodPatch)
	apiRouter.HandleFunc("/vm/{name}/suspend", s.vmAction(vm.ActionSuspend, s.vms.Suspend)).Methods(http.MethodPatch)
	apiRouter.HandleFunc("/vm/{name}/resume", s.vmAction(vm.ActionResume, s.vms.Resume)).Methods(http.MethodPatch)
	apiRouter.HandleFunc("/storage", s.listVolumes).Methods(http.MethodGet)
	apiRouter.HandleFunc("/network", s.listNetworks).Methods(http.MethodGet)
	apiRouter.HandleFunc("/interface", s.listInterfaces).Methods(http.MethodGet)
	apiRouter.HandleFunc("/hypervisor", s.hypervisorInfo).Methods(http.MethodGet)
	unmatched := apiUnmatched(collectMethods(apiRouter))
	apiRouter.NotFoundHandler = unmatched
	apiRouter.MethodNotAllowedHandler = unmatched

	ui := opts.UI
	if ui == nil {
		ui = http.NotFoundHandler()
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		infoFrom(req.Context()).route = routeStatic
		ui.ServeHTTP(w, req)
	})

	s.handler = s.instrument(r)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// pathMethods pairs a route's path pattern with the methods it accepts.
type pathMethods struct {
	path    *regexp.Regexp
	methods []string
}

func collectMethods(r *mux.Router) []pathMethods {
	var out []pathMethods
	_ = r.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		expr, err := route.GetPathRegexp()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil
		}
		out = append(out, pathMethods{path: re, methods: methods})
		return nil
	})
	return out
}

// apiUnmatched answers requests no /api route accepted: 405 with an Allow
// header when the path exists under another method, JSON 404 otherwise.
func apiUnmatched(routes []pathMethods) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infoFrom(r.Context()).route = "/api/*"

		var allow []string
		for _, rt := range routes {
			if rt.path.MatchString(r.URL.Path) {
				allow = append(allow, rt.methods...)
			}
		}

		if len(allow) == 0 {
			writeErrorBody(w, http.StatusNotFound, ErrorBody{
				Error: "no such endpoint: " + r.Method + " " + r.URL.Path,
				Kind:  hypervisor.KindLookup.String(),
			})
			return
		}

		slices.Sort(allow)
		w.Header().Set("Allow", strings.Join(slices.Compact(allow), ", "))
		writeErrorBody(w, http.StatusMethodNotAllowed, ErrorBody{
			Error: "method " + r.Method + " not allowed on " + r.URL.Path,
			Kind:  hypervisor.KindInvalid.String(),
		})
	}
}

// fail writes err as a JSON error and logs it with the request id.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := StatusFor(err)
	log := requestLogger(s.log, r)
	if status >= http.StatusInternalServerError {
		log.Error("operation failed", "kind", kind, "error", err)
	} else {
		log.Debug("operation rejected", "status", status, "kind", kind, "error", err)
	}
	writeErrorBody(w, status, ErrorBody{Error: err.Error(), Kind: kind})
}

// listOrEmpty keeps empty listings encoded as [] rather than null.
func listOrEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
