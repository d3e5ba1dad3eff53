// Command robots-history reconstructs robots.txt history from web archives.
package main

import "github.com/JakeFAU/robots-history/cmd"

func main() {
	cmd.Execute()
}
