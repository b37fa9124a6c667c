package rules

// Files installed when a consolidation finds nothing to merge.

const defaultCacheRules = `# Cache rules
/0000 {
  /glob "*"
  /type "deny"
}
/0001 {
  /glob "*.html"
  /type "allow"
}
/0002 {
  /glob "/libs/granite/csrf/token.json"
  /type "deny"
}
`

const defaultClientHeaders = `# Client headers forwarded to the publish instance
"X-Forwarded-Proto"
"X-Forwarded-SSL-Certificate"
"X-Forwarded-SSL-Client-Cert"
"X-Forwarded-SSL"
"X-Forwarded-Protocol"
"CSRF-Token"
"referer"
"user-agent"
"authorization"
"from"
"content-type"
"content-length"
"accept-charset"
"accept-encoding"
"accept-language"
"accept"
"host"
"if-match"
"if-none-match"
"if-range"
"if-unmodified-since"
"max-forwards"
"range"
"cookie"
"depth"
"destination"
"if"
"lock-token"
"overwrite"
"timeout"
"cq-action"
"cq-handle"
"cq-path"
"cq-tag"
"ppt"
"jsessionid"
"x-requested-with"
`

const defaultFilters = `# Filters
/0001 { /type "deny" /url "*" }
/0010 { /type "allow" /extension '(css|eot|gif|ico|jpeg|jpg|js|gif|pdf|png|svg|swf|ttf|woff|woff2|html|mp4|mov|m4v)' /path "/content/*" }
/0011 { /type "allow" /method "GET" /extension "json" /selectors "model" /path "/content/*" }
/0013 { /type "allow" /method "GET" /extension "json" /selectors "1" /path "/content/dam/*" }
/0014 { /type "allow" /path "/libs/granite/csrf/token.json" /method "GET" /extension "json" }
/0015 { /type "allow" /method "POST" /url "/content/[.]*.form.html" }
/0016 { /type "allow" /url "/libs/cq/personalization/*" }
/0017 { /type "deny" /url "/content/dam/*/jcr:content*" }
`

const defaultRenders = `# Publish renderer
/0 {
  /hostname "${AEM_HOST}"
  /port "${AEM_PORT}"
  /timeout "10000"
}
`

const defaultVirtualHosts = `# Virtual hosts handled by the publish farm
"*"
`

const defaultRewriteRules = `# Rewrite rules
RewriteCond %{REQUEST_URI} ^/content/dam
RewriteRule ^ - [L]
`

const defaultCustomVars = `# Custom variables
`

// defaultBuiltinVariables are defined by the runtime, never in the tree.
var defaultBuiltinVariables = []string{
	"AEM_HOST",
	"AEM_IP",
	"AEM_PORT",
	"AEM_SCHEME",
	"AEM_PROXY_HOST",
	"COMMERCE_ENDPOINT",
	"DISP_LOG_LEVEL",
	"ENVIRONMENT_TYPE",
	"ENVIRONMENT_DEV",
	"ENVIRONMENT_STAGE",
	"ENVIRONMENT_PROD",
	"REWRITE_LOG_LEVEL",
}

// defaultDirectives is the built-in allow-list for vhost files.
var defaultDirectives = []string{
	"<Directory>",
	"<DirectoryMatch>",
	"<Else>",
	"<ElseIf>",
	"<Files>",
	"<FilesMatch>",
	"<If>",
	"<IfDefine>",
	"<IfModule>",
	"<Location>",
	"<LocationMatch>",
	"<RequireAll>",
	"<RequireAny>",
	"<VirtualHost>",
	"AddCharset",
	"AddDefaultCharset",
	"AddEncoding",
	"AddHandler",
	"AddLanguage",
	"AddOutputFilter",
	"AddOutputFilterByType",
	"AddType",
	"Alias",
	"AliasMatch",
	"AllowEncodedSlashes",
	"AllowOverride",
	"Define",
	"DirectoryIndex",
	"DirectorySlash",
	"DispatcherDeclineRoot",
	"DispatcherPassError",
	"DispatcherUseForwardedHost",
	"DispatcherUseProcessedURL",
	"DocumentRoot",
	"ErrorDocument",
	"ExpiresActive",
	"ExpiresByType",
	"ExpiresDefault",
	"FileETag",
	"Header",
	"Include",
	"IncludeOptional",
	"Options",
	"Redirect",
	"RedirectMatch",
	"RemoveOutputFilter",
	"RemoveType",
	"RequestHeader",
	"Require",
	"RewriteCond",
	"RewriteEngine",
	"RewriteMap",
	"RewriteOptions",
	"RewriteRule",
	"ServerAlias",
	"ServerName",
	"SetEnv",
	"SetEnvIf",
	"SetEnvIfExpr",
	"SetEnvIfNoCase",
	"SetHandler",
	"SetOutputFilter",
	"SSILegacyExprParser",
	"UseCanonicalName",
}
