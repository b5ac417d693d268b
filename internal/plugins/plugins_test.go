package plugins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeMailbox struct {
	searches []string
	results  map[string][]ports.MessageRef
	bodies   map[string]string

	modified map[string][2][]string
}

func (m *fakeMailbox) SearchMessages(_ context.Context, query string, _ int) ([]ports.MessageRef, error) {
	m.searches = append(m.searches, query)
	return m.results[query], nil
}

func (m *fakeMailbox) GetMessageBody(_ context.Context, id string) (string, error) {
	return m.bodies[id], nil
}

func (m *fakeMailbox) ModifyLabels(_ context.Context, id string, add, remove []string) error {
	if m.modified == nil {
		m.modified = make(map[string][2][]string)
	}
	m.modified[id] = [2][]string{add, remove}
	return nil
}

type fakeContacts struct {
	created []string
}

func (c *fakeContacts) CreateContact(_ context.Context, email string) error {
	c.created = append(c.created, email)
	return nil
}

type fakeTabSession struct {
	navigated []string
	tabs      []string
}

func (s *fakeTabSession) AccountID() domain.AccountID { return "alice@example.com" }
func (s *fakeTabSession) Port() int                   { return 9222 }
func (s *fakeTabSession) PageDebuggerURL() string     { return "ws://127.0.0.1:9222/devtools/page/1" }
func (s *fakeTabSession) State() domain.SessionState  { return domain.SessionReady }

func (s *fakeTabSession) Navigate(_ context.Context, url string, _ bool, _ time.Duration) error {
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *fakeTabSession) OpenTab(_ context.Context, url string, _ time.Duration) (string, error) {
	s.tabs = append(s.tabs, url)
	return "ws://127.0.0.1:9222/devtools/page/tab", nil
}

func (s *fakeTabSession) TabReadyState(context.Context, string, time.Duration) (string, error) {
	return "complete", nil
}

func newActionContext(t *testing.T, task *domain.AccountTask, mailbox *fakeMailbox, session ports.BrowserSession) *ports.ActionContext {
	t.Helper()
	return &ports.ActionContext{
		Account: domain.Account{ID: "alice@example.com"},
		Task:    task,
		Session: session,
		Mailbox: mailbox,
		Log:     zaptest.NewLogger(t),
	}
}

func TestRegistryResolvesAllBuiltins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []domain.ActionID{
		"archive", "mark_important", "mark_not_important", "star", "unstar",
		"mark_unread", "not_spam", "move_to_inbox", "trash",
		"open_ui", "click_links", "play_shorts", "add_contacts",
	} {
		action, err := r.Resolve(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, action.ID())
	}

	_, err := r.Resolve("no_such_action")
	require.Error(t, err)
}

func TestResolveAllFailsFastOnUnknownID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.ResolveAll([]domain.ActionID{"archive", "bogus", "star"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestLabelActionBrowserRequirements(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []domain.ActionID{"archive", "star", "trash", "add_contacts"} {
		action, err := r.Resolve(id)
		require.NoError(t, err)
		assert.False(t, action.RequiresBrowser(), id)
	}
	for _, id := range []domain.ActionID{"open_ui", "click_links", "play_shorts"} {
		action, err := r.Resolve(id)
		require.NoError(t, err)
		assert.True(t, action.RequiresBrowser(), id)
	}
}

func TestArchiveRemovesInboxLabelFromMatches(t *testing.T) {
	t.Parallel()

	query := `(from:"promo" OR subject:"promo") in:inbox`
	mailbox := &fakeMailbox{
		results: map[string][]ports.MessageRef{
			query: {{ID: "m-1"}, {ID: "m-2"}},
		},
	}

	task := domain.NewAccountTask("alice@example.com", nil)
	task.Shared[domain.SharedSearchTerms] = "promo"

	action, err := NewRegistry().Resolve("archive")
	require.NoError(t, err)
	require.NoError(t, action.Run(context.Background(), newActionContext(t, task, mailbox, nil)))

	assert.Equal(t, []string{query}, mailbox.searches)
	require.Len(t, mailbox.modified, 2)
	assert.Equal(t, [2][]string{nil, {"INBOX"}}, mailbox.modified["m-1"])
}

func TestTrashAddsTrashAndRemovesInbox(t *testing.T) {
	t.Parallel()

	query := `(from:"junk" OR subject:"junk") in:inbox`
	mailbox := &fakeMailbox{
		results: map[string][]ports.MessageRef{query: {{ID: "m-9"}}},
	}

	task := domain.NewAccountTask("alice@example.com", nil)
	task.Shared[domain.SharedSearchTerms] = "junk"

	action, err := NewRegistry().Resolve("trash")
	require.NoError(t, err)
	require.NoError(t, action.Run(context.Background(), newActionContext(t, task, mailbox, nil)))

	assert.Equal(t, [2][]string{{"TRASH"}, {"INBOX"}}, mailbox.modified["m-9"])
}

func TestNotSpamSearchesSpamScope(t *testing.T) {
	t.Parallel()

	mailbox := &fakeMailbox{}
	task := domain.NewAccountTask("alice@example.com", nil)
	task.Shared[domain.SharedSearchTerms] = "ham"

	action, err := NewRegistry().Resolve("not_spam")
	require.NoError(t, err)
	require.NoError(t, action.Run(context.Background(), newActionContext(t, task, mailbox, nil)))

	require.Len(t, mailbox.searches, 1)
	assert.Contains(t, mailbox.searches[0], "in:spam")
}

func TestLabelActionNoTermsIsNoOp(t *testing.T) {
	t.Parallel()

	mailbox := &fakeMailbox{}
	task := domain.NewAccountTask("alice@example.com", nil)

	action, err := NewRegistry().Resolve("star")
	require.NoError(t, err)
	require.NoError(t, action.Run(context.Background(), newActionContext(t, task, mailbox, nil)))
	assert.Empty(t, mailbox.searches)
}

func TestOpenUISetsKeepOpenAndNavigates(t *testing.T) {
	t.Parallel()

	session := &fakeTabSession{}
	task := domain.NewAccountTask("alice@example.com", nil)

	action, err := NewRegistry().Resolve("open_ui")
	require.NoError(t, err)
	require.NoError(t, action.Run(context.Background(), newActionContext(t, task, nil, session)))

	require.Len(t, session.navigated, 1)
	assert.Contains(t, session.navigated[0], "mail.google.com")
	assert.True(t, task.KeepOpen())
}

func TestOpenUIRequiresSession(t *testing.T) {
	t.Parallel()

	task := domain.NewAccountTask("alice@example.com", nil)
	action, err := NewRegistry().Resolve("open_ui")
	require.NoError(t, err)
	require.Error(t, action.Run(context.Background(), newActionContext(t, task, nil, nil)))
}

func TestClickLinksVisitsLinksAndMarksRead(t *testing.T) {
	t.Parallel()

	query := `(from:"news" OR subject:"news") is:unread`
	mailbox := &fakeMailbox{
		results: map[string][]ports.MessageRef{query: {{ID: "m-1"}}},
		bodies: map[string]string{
			"m-1": `<a href="https://landing.test/offer">offer</a> <img src="https://cdn.test/pic.png">`,
		},
	}

	session := &fakeTabSession{}
	task := domain.NewAccountTask("alice@example.com", nil)
	task.Shared[domain.SharedSearchTerms] = "news"

	action, err := NewRegistry().Resolve("click_links")
	require.NoError(t, err)
	require.NoError(t, action.Run(context.Background(), newActionContext(t, task, mailbox, session)))

	assert.Equal(t, []string{"https://landing.test/offer"}, session.tabs)
	assert.Equal(t, [2][]string{nil, {"UNREAD"}}, mailbox.modified["m-1"])
}

func TestAddContactsCreatesValidAddressesOnly(t *testing.T) {
	t.Parallel()

	contacts := &fakeContacts{}
	task := domain.NewAccountTask("alice@example.com", nil)
	task.Shared[domain.SharedContactInput] = "one@example.com, not-an-email , two@example.com"

	actx := &ports.ActionContext{
		Account:  domain.Account{ID: "alice@example.com"},
		Task:     task,
		Contacts: contacts,
		Log:      zaptest.NewLogger(t),
	}

	action, err := NewRegistry().Resolve("add_contacts")
	require.NoError(t, err)
	require.NoError(t, action.Run(context.Background(), actx))

	assert.Equal(t, []string{"one@example.com", "two@example.com"}, contacts.created)
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	body := `Visit https://a.test/page and https://a.test/page again,
	see https://cdn.test/logo.svg plus https://b.test/x?utm=1
	and http://c.test/file.pdf then https://d.test/final.`

	links := ExtractLinks(body, 10)
	assert.Equal(t, []string{
		"https://a.test/page",
		"https://b.test/x?utm=1",
		"https://d.test/final",
	}, links)

	assert.Len(t, ExtractLinks(body, 2), 2)
	assert.Nil(t, ExtractLinks(body, 0))
}

type fakeScriptSession struct {
	fakeTabSession
	fronted int
	evals   []string
}

func (s *fakeScriptSession) BringToFront(context.Context, time.Duration) error {
	s.fronted++
	return nil
}

func (s *fakeScriptSession) EvaluateInPage(_ context.Context, expr string, _ time.Duration) (string, error) {
	s.evals = append(s.evals, expr)
	if expr == shortsResetJS {
		return "ok", nil
	}
	return "ended", nil
}

func newTestPlayShorts(serverURL string) *PlayShorts {
	return &PlayShorts{
		searchURL:    serverURL + "/results?search_query=",
		homeURL:      "https://videos.test",
		watchTimeout: 200 * time.Millisecond,
		watchPoll:    10 * time.Millisecond,
		settle:       5 * time.Millisecond,
	}
}

func TestPlayShortsPlaysFoundShortsInForeground(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("search_query"))
		_, _ = w.Write([]byte(`<a href="/shorts/abcdefgh1">x</a> <a href="/shorts/ijklmnop2">y</a>`))
	}))
	defer server.Close()

	session := &fakeScriptSession{}
	task := domain.NewAccountTask("alice@example.com", nil)
	task.Shared[domain.SharedShortsCount] = 2
	actx := newActionContext(t, task, &fakeMailbox{}, session)

	action := newTestPlayShorts(server.URL)
	require.NoError(t, action.Run(context.Background(), actx))

	require.Len(t, session.navigated, 3)
	assert.Equal(t, "https://videos.test", session.navigated[0])
	assert.ElementsMatch(t, []string{
		"https://videos.test/shorts/abcdefgh1",
		"https://videos.test/shorts/ijklmnop2",
	}, session.navigated[1:])
	assert.Equal(t, 1, session.fronted)
	assert.Contains(t, session.evals, shortsStateJS)
}

func TestPlayShortsRequiresScriptCapableSession(t *testing.T) {
	t.Parallel()

	task := domain.NewAccountTask("alice@example.com", nil)
	actx := newActionContext(t, task, &fakeMailbox{}, &fakeTabSession{})

	err := (&PlayShorts{}).Run(context.Background(), actx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot run page script")
}

func TestPlayShortsZeroCountIsNoOp(t *testing.T) {
	t.Parallel()

	session := &fakeScriptSession{}
	task := domain.NewAccountTask("alice@example.com", nil)
	task.Shared[domain.SharedShortsCount] = 0
	actx := newActionContext(t, task, &fakeMailbox{}, session)

	require.NoError(t, (&PlayShorts{}).Run(context.Background(), actx))
	assert.Empty(t, session.navigated)
}

func TestPlayShortsNoResultsIsNoOp(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>no shorts here</html>"))
	}))
	defer server.Close()

	session := &fakeScriptSession{}
	task := domain.NewAccountTask("alice@example.com", nil)
	actx := newActionContext(t, task, &fakeMailbox{}, session)

	require.NoError(t, newTestPlayShorts(server.URL).Run(context.Background(), actx))
	assert.Empty(t, session.navigated)
}
