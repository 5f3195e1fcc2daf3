// Command forge is the engine's CLI entrypoint, wiring
// config → providers → tool loop → shell into one running conversation.
// Grounded on the teacher's cmd/root.go dispatch shape, generalized from a
// single-shot "suggest a command" loop into spec.md §4.9's App Shell turn
// driver.
package main

func main() {
	Execute()
}
