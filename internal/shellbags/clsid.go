package shellbags

// clsidNames maps well-known root folder CLSIDs (raw GUID bytes rendered
// as uppercase hex) to their display names. Unknown CLSIDs render as
// CLSID\{hex}.
var clsidNames = map[string]string{
	"00000000000000000000000000000000": "Desktop",
	"208D2C603AEA1069A2D708002B30309D": "My Network Places",
	"20D04FE03AEA1069A2D808002B30309D": "This PC",
	"450D8FBAAD2548299CFC1567F35CE80":  "Documents",
	"645FF0405081101B9F0800AA002F954E": "Recycle Bin",
	"F02C1A07BE214350A9E7AA4861A8E2E3": "Network",
	"F3361BAE6A654F3184CC2877E972B68C": "Control Panel",
	"871C538042A01069A2EA08002B30309D": "Internet Explorer",
	"E21CE7EF8AB449348ED8C45A1B13E940": "Downloads",
	"FDD39AD0238F46AFADAC6367BD85EE32": "Pictures",
	"3DFDF9E0CD6E471FA06C4CA807ACDED3": "Music",
	"B4BFCC3A0C614276BFC428F4E2442403": "Videos",
	"5E5F7973000948A08151EE8DDC8ED1AB": "Users",
}
