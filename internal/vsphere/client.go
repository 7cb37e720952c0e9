package vsphere

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/vapi/rest"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

const loginTimeout = 30 * time.Second

type Config struct {
	URL      string
	Username string
	Password string
	Insecure bool
	// SourceDatacenter and DestinationDatacenter scope every lookup of the matching
	// environment. Empty means the default datacenter.
	SourceDatacenter      string
	DestinationDatacenter string
	// DestinationSwitch restricts portgroup resolution to one distributed switch.
	DestinationSwitch string
	// TagCategory restricts the source label lookup to one tag category.
	TagCategory string
}

// Session is the compute side of a migration run. One session serves the whole batch.
type Session struct {
	cfg    Config
	client *govmomi.Client
	rest   *rest.Client
	pc     *property.Collector
}

func ParseURL(raw, username, password string) (*url.URL, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return nil, err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/sdk"
	}
	u.User = url.UserPassword(username, password)
	return u, nil
}

// Login opens both the SOAP session and the REST session used for tags.
func Login(ctx context.Context, cfg Config) (*Session, error) {
	u, err := ParseURL(cfg.URL, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("invalid vsphere url %q: %w", cfg.URL, err)
	}

	loginCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	vimClient, err := vim25.NewClient(loginCtx, soap.NewClient(u, cfg.Insecure))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", u.Host, err)
	}
	client := &govmomi.Client{
		SessionManager: session.NewManager(vimClient),
		Client:         vimClient,
	}
	zap.S().Named("vsphere").Infof("logging into %s as %s", u.Host, cfg.Username)
	if err := client.Login(loginCtx, u.User); err != nil {
		return nil, fmt.Errorf("login to %s: %w", u.Host, err)
	}

	rc := rest.NewClient(vimClient)
	if err := rc.Login(loginCtx, u.User); err != nil {
		_ = client.Logout(ctx)
		return nil, fmt.Errorf("rest login to %s: %w", u.Host, err)
	}

	return NewSession(client, rc, cfg), nil
}

// NewSession wraps already authenticated clients.
func NewSession(client *govmomi.Client, rc *rest.Client, cfg Config) *Session {
	return &Session{
		cfg:    cfg,
		client: client,
		rest:   rc,
		pc:     property.DefaultCollector(client.Client),
	}
}

func (s *Session) Logout(ctx context.Context) error {
	if s.rest != nil {
		if err := s.rest.Logout(ctx); err != nil {
			zap.S().Named("vsphere").Warnf("rest logout: %v", err)
		}
	}
	err := s.client.Logout(ctx)
	s.client.CloseIdleConnections()
	return err
}

func (s *Session) datacenterName(env migration.Environment) string {
	if env == migration.Source {
		return s.cfg.SourceDatacenter
	}
	return s.cfg.DestinationDatacenter
}

// finder returns a finder scoped to the datacenter of env.
func (s *Session) finder(ctx context.Context, env migration.Environment) (*find.Finder, *object.Datacenter, error) {
	finder := find.NewFinder(s.client.Client, true)

	var (
		dc  *object.Datacenter
		err error
	)
	if name := s.datacenterName(env); name != "" {
		dc, err = finder.Datacenter(ctx, name)
	} else {
		dc, err = finder.DefaultDatacenter(ctx)
	}
	if err != nil {
		if isFinderNotFound(err) {
			return nil, nil, migration.NewErrResourceNotFound("datacenter", s.datacenterName(env))
		}
		return nil, nil, fmt.Errorf("%s datacenter: %w", env, err)
	}
	finder.SetDatacenter(dc)
	return finder, dc, nil
}

func isFinderNotFound(err error) bool {
	switch err.(type) {
	case *find.NotFoundError, *find.DefaultNotFoundError:
		return true
	}
	return false
}

func isManagedObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	if soap.IsSoapFault(err) {
		switch soap.ToSoapFault(err).VimFault().(type) {
		case types.ManagedObjectNotFound, *types.ManagedObjectNotFound:
			return true
		}
	}
	if soap.IsVimFault(err) {
		if _, ok := soap.ToVimFault(err).(*types.ManagedObjectNotFound); ok {
			return true
		}
	}
	if f, ok := err.(types.HasFault); ok {
		if _, ok := f.Fault().(*types.ManagedObjectNotFound); ok {
			return true
		}
	}
	return strings.Contains(err.Error(), "ManagedObjectNotFound")
}

func toRef(r types.ManagedObjectReference) migration.Ref {
	return migration.Ref{Type: r.Type, Value: r.Value}
}

func fromRef(r migration.Ref) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: r.Type, Value: r.Value}
}
