package identity

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.3; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var webGLPairs = []WebGL{
	{Vendor: "Intel Inc.", Renderer: "Intel Iris OpenGL Engine"},
	{Vendor: "NVIDIA Corporation", Renderer: "ANGLE (NVIDIA)"},
	{Vendor: "Google Inc.", Renderer: "ANGLE (Google)"},
	{Vendor: "AMD", Renderer: "AMD Radeon"},
}

var fontStacks = [][]string{
	{"Arial", "Verdana", "Times New Roman"},
	{"Courier New", "Georgia", "Garamond"},
	{"Trebuchet MS", "Liberation Sans", "DejaVu Sans"},
}

var macDeviceModels = []string{
	"MacBookPro15,2",
	"MacBookAir10,1",
	"Macmini9,1",
	"MacPro7,1",
	"iMac19,2",
}

var networkTiers = []Connection{
	{EffectiveType: "4g", Downlink: 18, RTT: 70, SaveData: false},
	{EffectiveType: "4g", Downlink: 10, RTT: 120, SaveData: false},
	{EffectiveType: "3g", Downlink: 2.5, RTT: 300, SaveData: true},
}

type resolution struct {
	width, height int
}

var screenResolutions = []resolution{
	{1920, 1080},
	{1600, 900},
	{1366, 768},
	{2560, 1440},
}

type localePair struct {
	primary   string
	secondary string
}

var localePairs = []localePair{
	{"en-US", "en"},
	{"en-GB", "en"},
	{"fr-FR", "fr"},
	{"de-DE", "de"},
	{"es-ES", "es"},
	{"ar-SA", "ar"},
}

var timezones = []string{
	"UTC",
	"America/New_York",
	"Europe/London",
	"Asia/Tokyo",
	"Australia/Sydney",
	"America/Los_Angeles",
}

var (
	pixelRatios    = []float64{1, 1.25, 1.5, 2}
	colorDepths    = []int{24, 30}
	touchPoints    = []int{0, 0, 10}
	doNotTrack     = []string{"1", "0"}
	coreCounts     = []int{4, 8}
	memorySizes    = []int{4, 8}
	canvasNoiseMin = 0.1
	canvasNoiseMax = 0.4
)

// taskbarHeight is subtracted from the screen height to form availHeight.
const taskbarHeight = 40

// countryLocales maps ISO 3166-1 alpha-2 codes to a primary/secondary locale.
var countryLocales = map[string]localePair{
	"US": {"en-US", "en"},
	"GB": {"en-GB", "en"},
	"CA": {"en-CA", "en"},
	"AU": {"en-AU", "en"},
	"IE": {"en-IE", "en"},
	"IN": {"en-IN", "en"},
	"FR": {"fr-FR", "fr"},
	"BE": {"fr-BE", "fr"},
	"DE": {"de-DE", "de"},
	"AT": {"de-AT", "de"},
	"CH": {"de-CH", "de"},
	"ES": {"es-ES", "es"},
	"MX": {"es-MX", "es"},
	"AR": {"es-AR", "es"},
	"IT": {"it-IT", "it"},
	"NL": {"nl-NL", "nl"},
	"PT": {"pt-PT", "pt"},
	"BR": {"pt-BR", "pt"},
	"SE": {"sv-SE", "sv"},
	"PL": {"pl-PL", "pl"},
	"TR": {"tr-TR", "tr"},
	"RU": {"ru-RU", "ru"},
	"JP": {"ja-JP", "ja"},
	"KR": {"ko-KR", "ko"},
	"CN": {"zh-CN", "zh"},
	"TW": {"zh-TW", "zh"},
	"SA": {"ar-SA", "ar"},
	"AE": {"ar-AE", "ar"},
	"EG": {"ar-EG", "ar"},
	"MA": {"ar-MA", "ar"},
}
