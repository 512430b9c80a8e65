package adapter

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"radius-auth-proxy/internal/backend/domain"
)

const defaultSearchFilter = "(uid=%u)"

// directoryAdapter authenticates by binding to an LDAP directory. Two
// strategies, chosen by configuration:
//
//   - direct bind: the user DN is produced from bindDnFormat by placeholder
//     substitution (%u or {}) and bound with the presented secret;
//   - search bind: a service account binds first, searches searchBase for
//     the identity, then re-binds as the located entry.
//
// With startTls enabled a plaintext ldap:// connection is upgraded before
// any bind so credentials never cross the wire unencrypted.
type directoryAdapter struct {
	name                string
	server              string
	bindDnFormat        string
	startTLS            bool
	serviceBindDn       string
	serviceBindPassword string
	searchBase          string
	searchFilter        string
	attributeMap        map[string]string
}

func newDirectoryAdapter(name string, settings map[string]string) *directoryAdapter {
	filter := settings["searchFilter"]
	if filter == "" {
		filter = defaultSearchFilter
	}
	return &directoryAdapter{
		name:                name,
		server:              settings["server"],
		bindDnFormat:        settings["bindDnFormat"],
		startTLS:            settings["startTls"] == "true",
		serviceBindDn:       settings["serviceBindDn"],
		serviceBindPassword: settings["serviceBindPassword"],
		searchBase:          settings["searchBase"],
		searchFilter:        filter,
		attributeMap:        parseAttributeList(settings["attributeMap"]),
	}
}

func (a *directoryAdapter) Name() string      { return a.name }
func (a *directoryAdapter) Type() domain.Type { return domain.TypeDirectory }

// Authenticate binds as the user, directly or via service-account search.
func (a *directoryAdapter) Authenticate(ctx context.Context, identity, secret string) (bool, map[string]string, error) {
	if identity == "" || secret == "" {
		return false, nil, nil
	}

	conn, err := a.dial(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	if a.useSearchBind() {
		return a.searchBindAuth(conn, identity, secret)
	}
	return a.directBindAuth(conn, identity, secret)
}

// directBindAuth binds with the formatted user DN. Reply attributes are
// fetched afterwards only when a search base and attribute map are
// configured, using the user's own bind.
func (a *directoryAdapter) directBindAuth(conn *ldap.Conn, identity, secret string) (bool, map[string]string, error) {
	userDN := expandBindDN(a.bindDnFormat, identity)
	if err := conn.Bind(userDN, secret); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("%w: bind: %v", ErrUnavailable, err)
	}
	if a.searchBase == "" || len(a.attributeMap) == 0 {
		return true, nil, nil
	}
	entry, err := a.findEntry(conn, identity)
	if err != nil || entry == nil {
		// The bind succeeded; attribute lookup is best-effort.
		return true, nil, nil
	}
	return true, a.mapAttributes(entry), nil
}

// searchBindAuth locates the user's entry with the service account, then
// proves the credential by re-binding as that entry.
func (a *directoryAdapter) searchBindAuth(conn *ldap.Conn, identity, secret string) (bool, map[string]string, error) {
	if err := conn.Bind(a.serviceBindDn, a.serviceBindPassword); err != nil {
		return false, nil, fmt.Errorf("%w: service bind: %v", ErrUnavailable, err)
	}
	entry, err := a.findEntry(conn, identity)
	if err != nil {
		return false, nil, fmt.Errorf("%w: search: %v", ErrUnavailable, err)
	}
	if entry == nil {
		return false, nil, nil
	}
	if err := conn.Bind(entry.DN, secret); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("%w: user bind: %v", ErrUnavailable, err)
	}
	return true, a.mapAttributes(entry), nil
}

// TestConnection dials the server and, when a service account is
// configured, verifies its bind.
func (a *directoryAdapter) TestConnection(ctx context.Context) (bool, string) {
	conn, err := a.dial(ctx)
	if err != nil {
		return false, fmt.Sprintf("cannot reach %s: %v", a.server, err)
	}
	defer conn.Close()

	if a.useSearchBind() {
		if err := conn.Bind(a.serviceBindDn, a.serviceBindPassword); err != nil {
			return false, fmt.Sprintf("service bind as %s failed: %v", a.serviceBindDn, err)
		}
		return true, fmt.Sprintf("connected to %s; service bind ok", a.server)
	}
	return true, fmt.Sprintf("connected to %s", a.server)
}

func (a *directoryAdapter) useSearchBind() bool {
	return a.bindDnFormat == "" && a.serviceBindDn != ""
}

func (a *directoryAdapter) dial(ctx context.Context) (*ldap.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Timeout = time.Until(deadline)
	}
	conn, err := ldap.DialURL(a.server, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}
	if a.startTLS && strings.HasPrefix(a.server, "ldap://") {
		if err := conn.StartTLS(&tls.Config{ServerName: hostOf(a.server)}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return conn, nil
}

// findEntry searches for the identity's entry, requesting the directory
// attributes named by the attribute map. Returns nil when no entry matches.
func (a *directoryAdapter) findEntry(conn *ldap.Conn, identity string) (*ldap.Entry, error) {
	attrs := make([]string, 0, len(a.attributeMap))
	for ldapAttr := range a.attributeMap {
		attrs = append(attrs, ldapAttr)
	}
	filter := expandBindDN(a.searchFilter, ldap.EscapeFilter(identity))
	req := ldap.NewSearchRequest(
		a.searchBase,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		filter, attrs, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, err
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	return res.Entries[0], nil
}

// mapAttributes translates directory attributes onto reply attributes using
// the configured name mapping. Multi-valued attributes contribute their
// first value.
func (a *directoryAdapter) mapAttributes(entry *ldap.Entry) map[string]string {
	if len(a.attributeMap) == 0 {
		return nil
	}
	attrs := make(map[string]string)
	for ldapAttr, replyAttr := range a.attributeMap {
		values := entry.GetAttributeValues(ldapAttr)
		if len(values) > 0 && values[0] != "" {
			attrs[replyAttr] = values[0]
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// expandBindDN substitutes the identity into a DN or filter template.
// Both %u and {} placeholder styles are accepted.
func expandBindDN(format, identity string) string {
	if strings.Contains(format, "{}") {
		return strings.ReplaceAll(format, "{}", identity)
	}
	return strings.ReplaceAll(format, "%u", identity)
}

func hostOf(serverURL string) string {
	rest := serverURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
