package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jamesprial/virtweb/internal/hypervisor"
	"github.com/jamesprial/virtweb/internal/safety"
	"github.com/jamesprial/virtweb/internal/vm"
)

// maxDefineBody caps the domain XML accepted by POST /api/vm.
const maxDefineBody = 1 << 20

func (s *Server) listVMs(w http.ResponseWriter, r *http.Request) {
	vms, err := s.vms.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(vms))
}

func (s *Server) listVolumes(w http.ResponseWriter, r *http.Request) {
	vols, err := s.storage.List(r.Context(), r.URL.Query().Get("pool"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(vols))
}

func (s *Server) listNetworks(w http.ResponseWriter, r *http.Request) {
	nets, err := s.network.Networks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(nets))
}

func (s *Server) listInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := s.network.Interfaces(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(ifaces))
}

func (s *Server) hypervisorInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.host.Info(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// vmAction handles PATCH /api/vm/{name}/<action>. Success has an empty body.
func (s *Server) vmAction(action vm.Action, fn func(ctx context.Context, name string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		err := s.guarded(r, action, name, nil, func() error {
			return fn(r.Context(), name)
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) deleteVM(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	undefine := false
	if v := r.URL.Query().Get("undefine"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, r, hypervisor.Errorf(hypervisor.KindInvalid, "delete vm", "undefine: %q is not a boolean", v))
			return
		}
		undefine = b
	}

	params := map[string]any{"undefine": undefine}
	err := s.guarded(r, vm.ActionDelete, name, params, func() error {
		return s.vms.Delete(r.Context(), name, undefine)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) defineVM(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDefineBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, hypervisor.Errorf(hypervisor.KindInvalid, "define vm", "domain xml exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.fail(w, r, hypervisor.Errorf(hypervisor.KindInvalid, "define vm", "read body: %v", err))
		return
	}
	doc := string(body)

	name, err := vm.DomainName(doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var sum *vm.Summary
	err = s.guarded(r, vm.ActionDefine, name, nil, func() error {
		var derr error
		sum, derr = s.vms.Define(r.Context(), doc)
		return derr
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// guarded runs fn after the vm filter admits name, and audits the outcome.
func (s *Server) guarded(r *http.Request, action vm.Action, name string, params map[string]any, fn func() error) error {
	start := time.Now()
	auditAction := "vm_" + string(action)

	if err := s.filter.Check(name); err != nil {
		s.record(r, auditAction, name, params, "denied", start)
		return err
	}

	if err := fn(); err != nil {
		s.record(r, auditAction, name, params, "error: "+err.Error(), start)
		return err
	}
	s.record(r, auditAction, name, params, "ok", start)
	return nil
}

func (s *Server) record(r *http.Request, action, target string, params map[string]any, result string, start time.Time) {
	if s.audit == nil {
		return
	}
	entry := safety.AuditEntry{
		Timestamp: start.UTC(),
		Source:    safety.SourceREST,
		Action:    action,
		Target:    target,
		Params:    params,
		Result:    result,
		RequestID: RequestID(r.Context()),
		Duration:  time.Since(start),
	}
	if err := s.audit.Log(entry); err != nil {
		requestLogger(s.log, r).Warn("audit write failed", "error", err)
	}
}
