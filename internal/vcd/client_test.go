package vcd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

const testToken = "secret-token"

// fakeVCD serves the subset of the tenant-management API the client uses.
type fakeVCD struct {
	mu       sync.Mutex
	srv      *httptest.Server
	vdcs     []vdcRecord
	vapps    []vappRecord
	metadata map[string][]metadataEntry
	imports  []importVmAsVAppParams
	polls    int
	fail     bool
	calls    int
}

func newFakeVCD() *fakeVCD {
	f := &fakeVCD{metadata: map[string][]metadataEntry{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/cloudapi/1.0.0/sessions/provider", f.login)
	mux.HandleFunc("/cloudapi/1.0.0/sessions/current", f.authorized(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("/cloudapi/1.0.0/vdcs", f.authorized(f.listVDCs))
	mux.HandleFunc("/api/query", f.authorized(f.query))
	mux.HandleFunc("/api/admin/extension/vimServer/vc-1/importVmAsVApp", f.authorized(f.importVM))
	mux.HandleFunc("/api/task/", f.authorized(f.task))
	mux.HandleFunc("/api/vApp/", f.authorized(f.vappMetadata))
	f.srv = httptest.NewServer(mux)
	DeferCleanup(f.srv.Close)
	return f
}

func (f *fakeVCD) login(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin@System" || pass != "pw" {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(apiError{MajorErrorCode: 401, Message: "bad credentials"})
		return
	}
	w.Header().Set(accessTokenHeader, testToken)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeVCD) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls++
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.fail {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(apiError{MajorErrorCode: 500, MinorErrorCode: "INTERNAL_SERVER_ERROR", Message: "database unavailable"})
			return
		}
		next(w, r)
	}
}

func (f *fakeVCD) listVDCs(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Query().Get("filter"), "name==")
	page := vdcPage{}
	for _, v := range f.vdcs {
		if v.Name == name {
			page.Values = append(page.Values, v)
		}
	}
	page.ResultTotal = len(page.Values)
	_ = json.NewEncoder(w).Encode(page)
}

func (f *fakeVCD) query(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(r.URL.Query().Get("filter"), ";", 2)
	name := strings.TrimPrefix(parts[0], "name==")
	vdc := strings.TrimPrefix(parts[1], "vdc==")
	result := queryResult{}
	for _, v := range f.vapps {
		if v.Name == name && v.Vdc == vdc {
			result.Record = append(result.Record, v)
		}
	}
	result.Total = len(result.Record)
	_ = json.NewEncoder(w).Encode(result)
}

func (f *fakeVCD) importVM(w http.ResponseWriter, r *http.Request) {
	var params importVmAsVAppParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.imports = append(f.imports, params)
	href := f.srv.URL + "/api/vApp/vapp-" + params.Name
	f.vapps = append(f.vapps, vappRecord{Href: href, Name: params.Name, Vdc: params.Vdc.Href})
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(vapp{
		Href: href,
		Name: params.Name,
		Tasks: &tasksInProgress{Task: []task{{
			Href:      f.srv.URL + "/api/task/import-1",
			Status:    "running",
			Operation: "importVm",
		}}},
	})
}

func (f *fakeVCD) task(w http.ResponseWriter, r *http.Request) {
	f.polls++
	status := "running"
	if f.polls >= 2 {
		status = "success"
	}
	_ = json.NewEncoder(w).Encode(task{Href: f.srv.URL + r.URL.Path, Status: status, Progress: 50 * f.polls})
}

func (f *fakeVCD) vappMetadata(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/vApp/")
	id, rest, _ := strings.Cut(path, "/")
	href := f.srv.URL + "/api/vApp/" + id
	switch {
	case r.Method == http.MethodGet && rest == "metadata":
		_ = json.NewEncoder(w).Encode(metadata{MetadataEntry: f.metadata[href]})
	case r.Method == http.MethodPost && rest == "metadata":
		var m metadata
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.metadata[href] = append(f.metadata[href], m.MetadataEntry...)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(task{Href: f.srv.URL + "/api/task/metadata-1", Status: "success"})
	case r.Method == http.MethodDelete && strings.HasPrefix(rest, "metadata/"):
		key := strings.TrimPrefix(rest, "metadata/")
		kept := f.metadata[href][:0]
		for _, e := range f.metadata[href] {
			if e.Key != key {
				kept = append(kept, e)
			}
		}
		f.metadata[href] = kept
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(task{Href: f.srv.URL + "/api/task/metadata-2", Status: "success"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(f *fakeVCD) *Client {
	GinkgoHelper()
	c, err := NewClient(Config{
		URL:              f.srv.URL,
		Username:         "admin",
		Password:         "pw",
		VimServerID:      "vc-1",
		TaskPollInterval: time.Millisecond,
	})
	Expect(err).To(BeNil())
	Expect(c.Login(context.TODO())).To(Succeed())
	return c
}

var _ = Describe("vcd client", func() {
	var f *fakeVCD

	BeforeEach(func() {
		f = newFakeVCD()
	})

	Context("session", func() {
		It("logs in as provider and out again", func() {
			c := newTestClient(f)
			Expect(c.token).To(Equal(testToken))
			Expect(c.Logout(context.TODO())).To(Succeed())
			Expect(c.token).To(BeEmpty())
		})

		It("surfaces the server message on bad credentials", func() {
			bad, err := NewClient(Config{URL: f.srv.URL, Username: "admin", Password: "nope"})
			Expect(err).To(BeNil())
			err = bad.Login(context.TODO())
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("bad credentials"))
		})

		It("does not retry server errors by default", func() {
			c := newTestClient(f)
			f.fail = true
			before := f.calls

			_, err := c.FindOrgVDC(context.TODO(), "100-Acme-Linux")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("database unavailable"))
			Expect(f.calls).To(Equal(before + 1))
		})
	})

	Context("org vdc", func() {
		It("finds a vdc by name and reports a missing one as not found", func() {
			f.vdcs = []vdcRecord{{ID: "urn:vcloud:vdc:1111", Name: "100-Acme-Linux"}}
			c := newTestClient(f)

			vdc, err := c.FindOrgVDC(context.TODO(), "100-Acme-Linux")
			Expect(err).To(BeNil())
			Expect(vdc.Ref.Value).To(Equal("urn:vcloud:vdc:1111"))

			_, err = c.FindOrgVDC(context.TODO(), "100-Acme-Sql")
			Expect(migration.IsNotFound(err)).To(BeTrue())
		})

		It("refuses an ambiguous name", func() {
			f.vdcs = []vdcRecord{
				{ID: "urn:vcloud:vdc:1111", Name: "100-Acme-Linux"},
				{ID: "urn:vcloud:vdc:2222", Name: "100-Acme-Linux"},
			}
			c := newTestClient(f)

			_, err := c.FindOrgVDC(context.TODO(), "100-Acme-Linux")
			Expect(err).ToNot(BeNil())
			Expect(migration.IsNotFound(err)).To(BeFalse())
		})
	})

	Context("import", func() {
		var (
			vdc migration.OrgVDC
			vm  migration.VirtualMachine
		)

		BeforeEach(func() {
			vdc = migration.OrgVDC{Ref: migration.Ref{Type: "vdc", Value: "urn:vcloud:vdc:1111"}, Name: "100-Acme-Linux"}
			vm = migration.VirtualMachine{Ref: migration.Ref{Type: "VirtualMachine", Value: "vm-42"}, Name: "app01"}
		})

		It("imports by reference, waits for the task and finds the vapp afterwards", func() {
			c := newTestClient(f)

			_, err := c.FindVApp(context.TODO(), vdc, "app01")
			Expect(migration.IsNotFound(err)).To(BeTrue())

			imported, err := c.ImportVM(context.TODO(), vdc, vm, "app01")
			Expect(err).To(BeNil())
			Expect(imported.Name).To(Equal("app01"))
			Expect(imported.Ref.Value).To(Equal(f.srv.URL + "/api/vApp/vapp-app01"))
			Expect(f.polls).To(Equal(2))

			Expect(f.imports).To(HaveLen(1))
			Expect(f.imports[0].SourceMove).To(BeTrue())
			Expect(f.imports[0].VmMoRef).To(Equal("vm-42"))
			Expect(f.imports[0].Vdc.Href).To(Equal(f.srv.URL + "/api/vdc/1111"))

			found, err := c.FindVApp(context.TODO(), vdc, "app01")
			Expect(err).To(BeNil())
			Expect(found.Ref).To(Equal(imported.Ref))
		})

		It("needs a vim server", func() {
			c := newTestClient(f)
			c.cfg.VimServerID = ""

			_, err := c.ImportVM(context.TODO(), migration.OrgVDC{Ref: migration.Ref{Value: "urn:vcloud:vdc:1"}}, vm, "app01")
			Expect(err).ToNot(BeNil())
			Expect(f.imports).To(BeEmpty())
		})
	})

	Context("metadata", func() {
		It("writes typed entries, reads them back and deletes by key", func() {
			c := newTestClient(f)
			obj := migration.Ref{Type: "vApp", Value: f.srv.URL + "/api/vApp/vapp-app01"}

			Expect(c.CreateMetadata(context.TODO(), obj, migration.MetadataEntry{
				Key:        "Backup_1",
				Value:      migration.TypedValue{Type: migration.ValueDateTime, Value: "2024-03-09T13:05:07"},
				Visibility: migration.VisibilityGeneral,
			})).To(Succeed())
			Expect(c.CreateMetadata(context.TODO(), obj, migration.MetadataEntry{
				Key:        "Owner",
				Value:      migration.TypedValue{Type: migration.ValueString, Value: "ops"},
				Visibility: migration.VisibilityReadOnly,
			})).To(Succeed())

			wire := f.metadata[obj.Value]
			Expect(wire).To(HaveLen(2))
			Expect(wire[0].Domain).To(BeNil())
			Expect(wire[0].TypedValue.Type).To(Equal("MetadataDateTimeValue"))
			Expect(wire[1].Domain).To(Equal(&metadataDomain{Visibility: "READONLY", Value: "SYSTEM"}))

			entries, err := c.Metadata(context.TODO(), obj)
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0]).To(Equal(migration.MetadataEntry{
				Key:        "Backup_1",
				Value:      migration.TypedValue{Type: migration.ValueDateTime, Value: "2024-03-09T13:05:07"},
				Visibility: migration.VisibilityGeneral,
			}))
			Expect(entries[1].Visibility).To(Equal(migration.VisibilityReadOnly))

			Expect(c.DeleteMetadata(context.TODO(), obj, "Owner")).To(Succeed())
			entries, err = c.Metadata(context.TODO(), obj)
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(1))
		})

		DescribeTable("maps visibility both ways",
			func(v migration.Visibility) {
				Expect(visibilityOf(domainOf(v))).To(Equal(v))
			},
			Entry("general", migration.VisibilityGeneral),
			Entry("private", migration.VisibilityPrivate),
			Entry("read only", migration.VisibilityReadOnly),
		)
	})
})
