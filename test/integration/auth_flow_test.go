// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/knat-dev/jwtserver/internal/auth"
	authpg "github.com/knat-dev/jwtserver/internal/auth/postgres"
	"github.com/knat-dev/jwtserver/internal/observability"
	"github.com/knat-dev/jwtserver/internal/store"
	"github.com/knat-dev/jwtserver/internal/web"
)

// testEnv holds the container, pool and HTTP server shared by the suite.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	server    *httptest.Server
	tokens    *auth.TokenService
}

var env *testEnv

func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	e := &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("jwtserver_test"),
		postgres.WithUsername("jwtserver"),
		postgres.WithPassword("jwtserver"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	e.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		e.teardown()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		e.teardown()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		e.teardown()
		return nil, err
	}
	_ = migrator.Close()

	e.pool, err = store.Connect(ctx, connStr, 5)
	if err != nil {
		e.teardown()
		return nil, err
	}

	hasher, err := auth.NewPasswordHasher(auth.HasherBcrypt, bcrypt.MinCost)
	if err != nil {
		e.teardown()
		return nil, err
	}
	e.tokens, err = auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "integration-access",
		RefreshSecret: "integration-refresh",
	})
	if err != nil {
		e.teardown()
		return nil, err
	}
	svc, err := auth.NewAuthService(authpg.NewUserRepository(e.pool), hasher, e.tokens)
	if err != nil {
		e.teardown()
		return nil, err
	}

	router, err := web.NewRouter(web.RouterDeps{
		Auth:        svc,
		Cookie:      web.CookieConfig{Name: "nwid", MaxAge: e.tokens.RefreshTTL()},
		CORSOrigins: []string{"http://localhost:3000"},
		Metrics:     observability.NewMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		e.teardown()
		return nil, err
	}
	e.server = httptest.NewServer(router)
	return e, nil
}

func (e *testEnv) teardown() {
	if e.server != nil {
		e.server.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(context.Background())
	}
	e.cancel()
}

func (e *testEnv) truncate() {
	_, err := e.pool.Exec(e.ctx, "TRUNCATE users")
	Expect(err).NotTo(HaveOccurred())
}

// client is a browser-like HTTP client with a cookie jar.
type client struct {
	http   *http.Client
	access string
}

func newClient() *client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &client{http: &http.Client{Jar: jar}}
}

func (c *client) call(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if c.access != "" {
		req.Header.Set("Authorization", "Bearer "+c.access)
	}

	resp, err := c.http.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, data
}

func (c *client) register(email, username, password string) auth.RegisterResult {
	status, data := c.call(http.MethodPost, "/register", map[string]string{
		"email": email, "username": username, "password": password,
	})
	Expect(status).To(Equal(http.StatusOK))
	var res auth.RegisterResult
	Expect(json.Unmarshal(data, &res)).To(Succeed())
	return res
}

func (c *client) login(identifier, password string) auth.LoginResult {
	status, data := c.call(http.MethodPost, "/login", map[string]string{
		"email": identifier, "password": password,
	})
	Expect(status).To(Equal(http.StatusOK))
	var res auth.LoginResult
	Expect(json.Unmarshal(data, &res)).To(Succeed())
	if res.OK {
		c.access = res.AccessToken
	}
	return res
}

func (c *client) refresh() auth.RefreshResult {
	status, data := c.call(http.MethodPost, "/refresh", nil)
	Expect(status).To(Equal(http.StatusOK))
	var res auth.RefreshResult
	Expect(json.Unmarshal(data, &res)).To(Succeed())
	return res
}

func (c *client) refreshCookie() string {
	u, err := url.Parse(env.server.URL + web.RefreshPath)
	Expect(err).NotTo(HaveOccurred())
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == "nwid" {
			return ck.Value
		}
	}
	return ""
}

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.teardown()
	}
})

var _ = Describe("Auth API against PostgreSQL", func() {
	BeforeEach(func() {
		env.truncate()
	})

	Describe("registration", func() {
		It("creates a user once and rejects duplicates by email and username", func() {
			c := newClient()
			Expect(c.register("alice@example.com", "Alice", "hunter2").OK).To(BeTrue())

			dupEmail := c.register("alice@example.com", "Other", "pw")
			Expect(dupEmail.OK).To(BeFalse())
			Expect(dupEmail.Errors).To(ConsistOf(auth.FieldError{Field: "email", Message: "Email is already is linked to an account"}))

			dupName := c.register("other@example.com", "ALICE", "pw")
			Expect(dupName.Errors).To(ConsistOf(auth.FieldError{Field: "username", Message: "Username is already is linked to an account"}))
		})

		It("lets exactly one of many concurrent registrations win", func() {
			const racers = 8
			var (
				wg  sync.WaitGroup
				mu  sync.Mutex
				oks int
			)
			for range racers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					res := newClient().register("race@example.com", "racer", "pw")
					if res.OK {
						mu.Lock()
						oks++
						mu.Unlock()
					} else {
						Expect(res.Errors).To(HaveLen(1))
					}
				}()
			}
			wg.Wait()
			Expect(oks).To(Equal(1))

			var count int
			Expect(env.pool.QueryRow(env.ctx, "SELECT count(*) FROM users").Scan(&count)).To(Succeed())
			Expect(count).To(Equal(1))
		})
	})

	Describe("session lifecycle", func() {
		It("logs in, refreshes, revokes and requires a fresh login", func() {
			c := newClient()
			Expect(c.register("bob@example.com", "bobby", "pw").OK).To(BeTrue())

			login := c.login("BOBBY", "pw")
			Expect(login.OK).To(BeTrue())
			Expect(login.User.TokenVersion).To(Equal(0))
			firstCookie := c.refreshCookie()
			Expect(firstCookie).NotTo(BeEmpty())

			refreshed := c.refresh()
			Expect(refreshed.OK).To(BeTrue())
			claims, err := env.tokens.VerifyAccess(refreshed.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims.UserID).To(Equal(login.User.ID.String()))

			status, body := c.call(http.MethodGet, "/hello", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(login.User.ID.String()))

			status, body = c.call(http.MethodPost, "/revoke", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(body)).To(MatchJSON(`true`))

			Expect(c.refresh().OK).To(BeFalse())

			var version int
			Expect(env.pool.QueryRow(env.ctx,
				"SELECT token_version FROM users WHERE id = $1", login.User.ID.String()).Scan(&version)).To(Succeed())
			Expect(version).To(Equal(1))

			relogin := c.login("bob@example.com", "pw")
			Expect(relogin.OK).To(BeTrue())
			Expect(relogin.User.TokenVersion).To(Equal(1))
			Expect(c.refresh().OK).To(BeTrue())
		})

		It("clears the refresh cookie on logout", func() {
			c := newClient()
			Expect(c.register("carol@example.com", "carol", "pw").OK).To(BeTrue())
			Expect(c.login("carol", "pw").OK).To(BeTrue())
			Expect(c.refreshCookie()).NotTo(BeEmpty())

			status, _ := c.call(http.MethodPost, "/logout", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(c.refreshCookie()).To(BeEmpty())
			Expect(c.refresh().OK).To(BeFalse())
		})

		It("counts every concurrent revoke", func() {
			c := newClient()
			Expect(c.register("dave@example.com", "dave", "pw").OK).To(BeTrue())
			login := c.login("dave", "pw")
			Expect(login.OK).To(BeTrue())

			const revokes = 10
			var wg sync.WaitGroup
			for range revokes {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					status, _ := c.call(http.MethodPost, "/revoke", nil)
					Expect(status).To(Equal(http.StatusOK))
				}()
			}
			wg.Wait()

			status, body := c.call(http.MethodGet, "/me", nil)
			Expect(status).To(Equal(http.StatusOK))
			var me map[string]any
			Expect(json.Unmarshal(body, &me)).To(Succeed())
			Expect(me["tokenVersion"]).To(BeEquivalentTo(revokes))
		})
	})

	Describe("protected routes", func() {
		It("lists users only for authenticated callers", func() {
			c := newClient()
			status, _ := c.call(http.MethodGet, "/users", nil)
			Expect(status).To(Equal(http.StatusUnauthorized))

			Expect(c.register("erin@example.com", "erin", "pw").OK).To(BeTrue())
			Expect(c.register("frank@example.com", "frank", "pw").OK).To(BeTrue())
			Expect(c.login("erin", "pw").OK).To(BeTrue())

			status, body := c.call(http.MethodGet, "/users", nil)
			Expect(status).To(Equal(http.StatusOK))
			var users []map[string]any
			Expect(json.Unmarshal(body, &users)).To(Succeed())
			Expect(users).To(HaveLen(2))
			Expect(string(body)).NotTo(ContainSubstring("$2a$"))
		})
	})
})
