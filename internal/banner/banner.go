package banner

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

func Print() {
	logo, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithRGB("Media", pterm.NewRGB(64, 156, 255)),
		putils.LettersFromStringWithRGB("Sentry", pterm.NewRGB(255, 255, 255))).
		Srender()

	pterm.DefaultCenter.Print(logo)

	pterm.DefaultCenter.Print(
		pterm.DefaultHeader.
			WithFullWidth().
			WithBackgroundStyle(pterm.NewStyle(pterm.BgBlue)).
			WithMargin(5).
			Sprint(pterm.White("MediaSentry - Issue Tracking for Media Servers")),
	)

	pterm.Info.Println(
		"Watches Jellyfin and *arr logs, groups recurring errors into issues," +
			"\nand keeps score of what hurts your users most." +
			"\nVersion 0.1.0.",
	)
}
