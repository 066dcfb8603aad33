// Command chatmem runs the chatmem API server and offers offline tools for
// the persisted snapshot: reset, import, export and list.
package main

func main() {
	Execute()
}
