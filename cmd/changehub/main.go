// Package main provides the changehub CLI.
//
// changehub harvests the Roadmap and Change announcements lists of the
// Microsoft Entra Change Management Hub, enriches every row from its detail
// pane, and optionally copies the results into SharePoint lists.
//
// Usage:
//
//	changehub run
//	changehub run --tabs roadmap --sink
//	changehub whatsnew --render
//	changehub serve
//
// See --help for all available options.
package main

func main() {
	Execute()
}
