package scraper

// Selector rules used by the extractor, ordered by specificity: the first
// rule yielding a non-empty match wins. Centralising them makes updates
// after a retailer page change trivial.

var titleSelectors = []string{
	"#productTitle",
	"span#productTitle",
	"#title",
	"h1[itemprop='name']",
	"h1",
}

var priceSelectors = []string{
	"#corePrice_feature_div .a-price .a-offscreen",
	"#corePriceDisplay_desktop_feature_div .a-price .a-offscreen",
	"#priceblock_ourprice",
	"#priceblock_dealprice",
	"#price_inside_buybox",
	".a-price .a-offscreen",
	"[itemprop='price']",
	"[data-testid='price']",
	".price",
}

var currencySelectors = []string{
	"[itemprop='priceCurrency']",
	"meta[itemprop='priceCurrency']",
}

var availabilitySelectors = []string{
	"#availability span",
	"#availability",
	"[itemprop='availability']",
	"[data-testid='availability']",
}

// imageRules pair a selector with the attribute carrying the image URL.
var imageRules = []struct {
	selector string
	attr     string
}{
	{"#landingImage", "src"},
	{"#imgBlkFront", "src"},
	{"meta[property='og:image']", "content"},
	{"[data-testid='product-image'] img", "src"},
}

// challengeURLMarkers flag a redirect to a known anti-bot challenge path.
var challengeURLMarkers = []string{
	"/errors/validatecaptcha",
	"/captcha",
	"/sorry/",
	"/challenge",
}

// challengeTextMarkers flag a challenge or bot-block page by its content.
var challengeTextMarkers = []string{
	"robot check",
	"enter the characters you see below",
	"validatecaptcha",
	"type the characters you see in this image",
	"verify you are a human",
	"access denied",
}

// currencySymbols maps price-text symbols to ISO currency codes.
var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"₹": "INR",
	"¥": "JPY",
	"₩": "KRW",
	"R$": "BRL",
}
