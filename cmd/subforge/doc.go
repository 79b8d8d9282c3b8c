// Command subforge aligns caption text to word timings and drives overlay
// renders from the terminal.
//
//	subforge align -f segment.yaml
//	subforge display -f timings.json --at 1.25
//	subforge render -f request.yaml --timeout 30s
//	subforge cancel <operation-id>
//	subforge emulate --count 1
//	subforge gdrive-auth
package main
