package vcd

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

const vdcURNPrefix = "urn:vcloud:vdc:"

func (c *Client) FindOrgVDC(ctx context.Context, name string) (*migration.OrgVDC, error) {
	q := url.Values{}
	q.Set("filter", "name=="+name)
	q.Set("pageSize", "2")

	var page vdcPage
	if err := c.do(ctx, http.MethodGet, "/cloudapi/1.0.0/vdcs?"+q.Encode(), nil, &page, jsonContentType); err != nil {
		return nil, errors.Wrapf(err, "looking up vdc %s", name)
	}

	var matches []vdcRecord
	for _, r := range page.Values {
		if r.Name == name {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, migration.NewErrResourceNotFound("org vdc", name)
	case 1:
		return &migration.OrgVDC{Ref: migration.Ref{Type: "vdc", Value: matches[0].ID}, Name: name}, nil
	default:
		return nil, errors.Errorf("org vdc name %s is not unique", name)
	}
}

// vdcHref maps the cloudapi urn of a vdc to its legacy api href.
func (c *Client) vdcHref(vdc migration.OrgVDC) (string, error) {
	id := strings.TrimPrefix(vdc.Ref.Value, vdcURNPrefix)
	if id == "" {
		return "", errors.Errorf("org vdc %s has no id", vdc.Name)
	}
	return c.resolve("/api/vdc/" + id)
}

func (c *Client) FindVApp(ctx context.Context, vdc migration.OrgVDC, name string) (*migration.VApp, error) {
	href, err := c.vdcHref(vdc)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("type", "vApp")
	q.Set("format", "records")
	q.Set("filter", "name=="+name+";vdc=="+href)

	var result queryResult
	if err := c.do(ctx, http.MethodGet, "/api/query?"+q.Encode(), nil, &result, legacyContentType); err != nil {
		return nil, errors.Wrapf(err, "looking up vapp %s", name)
	}
	for _, r := range result.Record {
		if r.Name == name {
			return &migration.VApp{Ref: migration.Ref{Type: "vApp", Value: r.Href}, Name: r.Name}, nil
		}
	}
	return nil, migration.NewErrResourceNotFound("vapp", name)
}

// ImportVM adopts a VM of the registered vCenter as a new vApp of vdc. The VM is moved,
// not copied, and the call returns once the import task finished.
func (c *Client) ImportVM(ctx context.Context, vdc migration.OrgVDC, vm migration.VirtualMachine, name string) (*migration.VApp, error) {
	if c.cfg.VimServerID == "" {
		return nil, errors.New("no vim server configured for imports")
	}
	href, err := c.vdcHref(vdc)
	if err != nil {
		return nil, err
	}

	params := importVmAsVAppParams{
		Name:       name,
		SourceMove: true,
		VmMoRef:    vm.Ref.Value,
		Vdc:        reference{Href: href},
	}
	var created vapp
	path := "/api/admin/extension/vimServer/" + url.PathEscape(c.cfg.VimServerID) + "/importVmAsVApp"
	if err := c.do(ctx, http.MethodPost, path, params, &created, legacyContentType); err != nil {
		return nil, errors.Wrapf(err, "importing %s", vm.Name)
	}
	zap.S().Named("vcd").Infof("import of %s into %s started as %s", vm.Name, vdc.Name, created.Href)

	if created.Tasks != nil {
		for _, t := range created.Tasks.Task {
			if err := c.waitTask(ctx, t); err != nil {
				return nil, errors.Wrapf(err, "importing %s", vm.Name)
			}
		}
	}
	if created.Name == "" {
		created.Name = name
	}
	return &migration.VApp{Ref: migration.Ref{Type: "vApp", Value: created.Href}, Name: created.Name}, nil
}
