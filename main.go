// Command bookmark-sync runs the bookmark synchronization service.
package main

import "github.com/jstrand/bookmark-sync/cmd"

func main() {
	cmd.Execute()
}
