// Command flowctl inspects a running botflow deployment: the polling lease,
// chat sessions and scenario files.
package main

func main() {
	Execute()
}
