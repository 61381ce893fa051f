package botdefense

// Pattern is one suspicious-URL signature. High-severity patterns mark
// the credential/webshell/database/traversal/exploit classes that feed
// the escalation rule.
type Pattern struct {
	Name         string
	Match        []string // lowercase substrings, any-of
	Score        int
	HighSeverity bool
}

// Scoring weights. An IP-literal Host header on a dangerous path is
// materially more suspicious than either signal alone.
const (
	IPHostBonus     = 40
	ReverseDNSBonus = 15
	EscalationBonus = 60

	DefaultBlockThreshold = 100
)

// patterns is the fixed signature table, matched against the lowercased
// request URL.
var patterns = []Pattern{
	{Name: "path-traversal", Match: []string{"../", "..%2f", "..%5c"}, Score: 50, HighSeverity: true},
	{Name: "env-file", Match: []string{"/.env"}, Score: 60, HighSeverity: true},
	{Name: "git-config", Match: []string{".git/config", ".git/head"}, Score: 50, HighSeverity: true},
	{Name: "ssh-key", Match: []string{"id_rsa", "id_ed25519", ".ssh/"}, Score: 60, HighSeverity: true},
	{Name: "htpasswd", Match: []string{".htpasswd", ".htaccess"}, Score: 45, HighSeverity: true},
	{Name: "cloud-credentials", Match: []string{".aws/credentials", "credentials.json", ".npmrc"}, Score: 55, HighSeverity: true},
	{Name: "sql-dump", Match: []string{"dump.sql", "backup.sql", "db.sql", "database.sql"}, Score: 50, HighSeverity: true},
	{Name: "webshell", Match: []string{"shell.php", "cmd.php", "c99.php", "r57.php", "wso.php", "alfa.php"}, Score: 70, HighSeverity: true},
	{Name: "php-exploit", Match: []string{"eval-stdin.php", "phpunit", "think/app/invokefunction"}, Score: 60, HighSeverity: true},
	{Name: "cgi-probe", Match: []string{"/cgi-bin/", "/cgi/"}, Score: 35, HighSeverity: true},
	{Name: "wp-admin", Match: []string{"/wp-admin", "/wp-login.php", "/xmlrpc.php"}, Score: 25},
	{Name: "wp-content", Match: []string{"/wp-content/", "/wp-includes/"}, Score: 20},
	{Name: "phpmyadmin", Match: []string{"/phpmyadmin", "/pma/", "/mysqladmin"}, Score: 30},
	{Name: "admin-console", Match: []string{"/admin/config", "/manager/html", "/actuator/"}, Score: 25},
	{Name: "backup-probe", Match: []string{"/backup/", "backup.zip", "backup.tar"}, Score: 20},
	{Name: "config-probe", Match: []string{"web.config", "config.php", "settings.py"}, Score: 25},
	{Name: "scanner-probe", Match: []string{"/vendor/", "/.vscode/", "/.idea/"}, Score: 15},
}

// reverseDNSPrefixes flag hosts that look like generic provider
// reverse-DNS rather than a real service hostname.
var reverseDNSPrefixes = []string{
	"static.", "dynamic.", "pool.", "dsl.", "cable.", "dhcp.", "broadband.", "ppp.",
}
