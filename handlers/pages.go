// ABOUTME: Server-rendered login, session-expired and console pages
// ABOUTME: Render targets for the route guard's redirects

package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/markalston/admin-gateway/middleware"
	"github.com/markalston/admin-gateway/models"
)

const layoutTemplate = `{{define "layout"}}<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 28rem; margin: 4rem auto; padding: 0 1rem; color: #1f2933; }
form { display: grid; gap: .75rem; }
input, button { font: inherit; padding: .5rem; }
.notice { padding: .75rem; background: #fff4e5; border: 1px solid #f0b429; }
.error { color: #b91c1c; min-height: 1.5em; }
</style>
</head>
<body>
{{template "content" .}}
</body>
</html>{{end}}`

const loginTemplate = `{{define "content"}}
<h1>登录</h1>
<form id="login">
<input name="account" autocomplete="username" placeholder="账号" required>
<input name="password" type="password" autocomplete="current-password" placeholder="密码" required>
<button type="submit">登录</button>
<p class="error" id="error"></p>
</form>
<script>
document.getElementById("login").addEventListener("submit", async (ev) => {
  ev.preventDefault();
  const form = new FormData(ev.target);
  const res = await fetch({{.LoginAPI}}, {
    method: "POST",
    headers: { "Content-Type": "application/json", "Accept": "application/json" },
    body: JSON.stringify({ account: form.get("account"), password: form.get("password") }),
  });
  let env = {};
  try { env = await res.json(); } catch (e) {}
  if (res.ok && env.code === 200) {
    window.location.assign({{.Redirect}});
    return;
  }
  document.getElementById("error").textContent = env.message || res.statusText;
});
</script>
{{end}}`

const expiredTemplate = `{{define "content"}}
<h1>会话已结束</h1>
<p class="notice">{{.Reason}}</p>
<p><a href="{{.LoginURL}}">重新登录</a></p>
{{end}}`

const consoleTemplate = `{{define "content"}}
<h1>管理控制台</h1>
{{if .Identity}}<p>当前用户：{{.Identity.Name}}{{if .Identity.ID}} (#{{.Identity.ID}}){{end}}</p>
{{else}}<p class="notice">暂时无法确认登录状态，部分数据可能无法加载。</p>{{end}}
<p>{{.Path}}</p>
<p><button id="logout">退出登录</button></p>
<script>
document.getElementById("logout").addEventListener("click", async () => {
  await fetch({{.LogoutAPI}}, { method: "POST" });
  window.location.assign({{.LoginURL}});
});
</script>
{{end}}`

// pageData feeds every page template
type pageData struct {
	Title     string
	Path      string
	Reason    string
	Redirect  string
	LoginURL  string
	LoginAPI  string
	LogoutAPI string
	Identity  *models.Identity
}

// pageSet holds one parsed template per page, each sharing the layout
type pageSet map[string]*template.Template

func parsePages() pageSet {
	pages := pageSet{}
	for name, content := range map[string]string{
		"login":   loginTemplate,
		"expired": expiredTemplate,
		"console": consoleTemplate,
	} {
		t := template.Must(template.New(name).Parse(layoutTemplate))
		pages[name] = template.Must(t.Parse(content))
	}
	return pages
}

// LoginPage renders the login form. After signing in the browser goes to
// the redirect parameter when it is a local path.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, "login", pageData{
		Title:    "登录",
		Redirect: h.localRedirect(r.URL.Query().Get("redirect")),
		LoginAPI: h.cfg.BasePath + "/api/auth/login",
	})
}

// SessionExpiredPage tells the user their session ended and links back to login
func (h *Handler) SessionExpiredPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	reason := query.Get("reason")
	if reason == "" {
		reason = msgSessionExpired
	}

	h.render(w, "expired", pageData{
		Title:    "会话已结束",
		Reason:   reason,
		LoginURL: h.loginURL(query.Get("redirect")),
	})
}

// ConsolePage is the guarded landing page. Identity is absent when the guard
// could not reach the upstream.
func (h *Handler) ConsolePage(w http.ResponseWriter, r *http.Request) {
	h.render(w, "console", pageData{
		Title:     "管理控制台",
		Path:      returnTarget(r),
		Identity:  middleware.GetIdentity(r),
		LoginURL:  h.cfg.BasePath + "/login",
		LogoutAPI: h.cfg.BasePath + "/api/auth/logout",
	})
}

func (h *Handler) render(w http.ResponseWriter, page string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.pages[page].ExecuteTemplate(w, "layout", data); err != nil {
		slog.Error("Failed to render page", "page", page, "error", err)
	}
}

func (h *Handler) loginURL(redirect string) string {
	return h.cfg.BasePath + "/login?redirect=" + template.URLQueryEscaper(h.localRedirect(redirect))
}

// localRedirect accepts only same-origin absolute paths; anything else
// falls back to the console root.
func (h *Handler) localRedirect(target string) string {
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
		return target
	}
	return h.cfg.BasePath + h.cfg.ProtectedPrefix
}
