// Package gateway is the RADIUS front end: it listens for Access-Request
// packets, hands identity and credential to the router, and translates the
// boolean outcome into Access-Accept or Access-Reject.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"

	"radius-auth-proxy/internal/router"
)

// Server wraps a UDP RADIUS packet server around a Router.
type Server struct {
	router  *router.Router
	server  *radius.PacketServer
	tracer  trace.Tracer
	accepts metric.Int64Counter
	rejects metric.Int64Counter
}

// New builds a gateway listening on addr with the given shared secret.
func New(addr, secret string, rt *router.Router, tp trace.TracerProvider, mp metric.MeterProvider) (*Server, error) {
	meter := mp.Meter("radius-auth-proxy/gateway")
	accepts, err := meter.Int64Counter("radius.access.accepts",
		metric.WithDescription("Access-Request packets answered with Access-Accept"))
	if err != nil {
		return nil, fmt.Errorf("create accepts counter: %w", err)
	}
	rejects, err := meter.Int64Counter("radius.access.rejects",
		metric.WithDescription("Access-Request packets answered with Access-Reject"))
	if err != nil {
		return nil, fmt.Errorf("create rejects counter: %w", err)
	}

	s := &Server{
		router:  rt,
		tracer:  tp.Tracer("radius-auth-proxy/gateway"),
		accepts: accepts,
		rejects: rejects,
	}
	s.server = &radius.PacketServer{
		Addr:         addr,
		SecretSource: radius.StaticSecretSource([]byte(secret)),
		Handler:      radius.HandlerFunc(s.handle),
	}
	return s, nil
}

// ListenAndServe blocks serving RADIUS until Shutdown is called.
func (s *Server) ListenAndServe() error {
	log.Printf("gateway: listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the packet server, waiting for in-flight handlers up to
// ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handle(w radius.ResponseWriter, r *radius.Request) {
	ctx, span := s.tracer.Start(r.Context(), "gateway.AccessRequest")
	defer span.End()

	// Status-Server (RFC 5997) is the liveness probe: answer with current
	// chain and cache counters instead of touching any backend.
	if r.Packet.Code == radius.CodeStatusServer {
		stats := s.router.Stats()
		response := r.Response(radius.CodeAccessAccept)
		msg := fmt.Sprintf("backends=%d cache_entries=%d cache_hits=%d cache_misses=%d",
			stats.Backends, stats.Cache.Entries, stats.Cache.Hits, stats.Cache.Misses)
		if err := rfc2865.ReplyMessage_SetString(response, msg); err == nil {
			if err := w.Write(response); err != nil {
				log.Printf("gateway: write status: %v", err)
			}
		}
		return
	}

	// Anything other than Access-Request is out of contract; drop it.
	if r.Packet.Code != radius.CodeAccessRequest {
		log.Printf("gateway: ignoring packet with code %d from %s", r.Packet.Code, r.RemoteAddr)
		return
	}

	identity := rfc2865.UserName_GetString(r.Packet)
	credential := rfc2865.UserPassword_GetString(r.Packet)
	span.SetAttributes(attribute.String("radius.user_name", identity))

	granted, attrs := s.router.Authenticate(ctx, identity, credential)
	if !granted {
		s.rejects.Add(ctx, 1)
		log.Printf("gateway: reject for %q from %s", identity, r.RemoteAddr)
		if err := w.Write(r.Response(radius.CodeAccessReject)); err != nil {
			log.Printf("gateway: write reject: %v", err)
		}
		return
	}

	response := r.Response(radius.CodeAccessAccept)
	applyReplyAttributes(response, attrs)
	s.accepts.Add(ctx, 1)
	log.Printf("gateway: accept for %q from %s", identity, r.RemoteAddr)
	if err := w.Write(response); err != nil {
		log.Printf("gateway: write accept: %v", err)
	}
}

// applyReplyAttributes copies the router's attribute bag onto the response
// packet as typed RADIUS attributes. Names without a known mapping are
// logged and dropped rather than sent malformed.
func applyReplyAttributes(p *radius.Packet, attrs map[string]string) {
	for name, value := range attrs {
		var err error
		switch name {
		case "Reply-Message":
			err = rfc2865.ReplyMessage_SetString(p, value)
		case "Filter-Id":
			err = rfc2865.FilterID_SetString(p, value)
		case "Callback-Number":
			err = rfc2865.CallbackNumber_SetString(p, value)
		case "Framed-IP-Address":
			ip := net.ParseIP(value)
			if ip == nil {
				log.Printf("gateway: Framed-IP-Address %q is not an IP address", value)
				continue
			}
			err = rfc2865.FramedIPAddress_Set(p, ip)
		case "Session-Timeout":
			seconds, convErr := strconv.ParseUint(value, 10, 32)
			if convErr != nil {
				log.Printf("gateway: Session-Timeout %q is not a number", value)
				continue
			}
			err = rfc2865.SessionTimeout_Set(p, rfc2865.SessionTimeout(seconds))
		default:
			log.Printf("gateway: no RADIUS mapping for reply attribute %q", name)
			continue
		}
		if err != nil {
			log.Printf("gateway: set %s: %v", name, err)
		}
	}
}
