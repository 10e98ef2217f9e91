package lune_test

import (
	"fmt"
	"strings"

	"github.com/lunelang/lune"
)

func ExampleState_EvalString() {
	l := lune.New()
	results, err := l.EvalString(`return "hello", 1 + 2`)
	if err != nil {
		panic(err)
	}
	fmt.Println(results[0], results[1])
	// Output: hello 3
}

func ExampleState_Register() {
	l := lune.New()
	l.Register("greet", func(l *lune.State) int {
		name, _ := l.ToString(1)
		l.PushString("hello, " + name)
		return 1
	})
	results, err := l.EvalString(`return greet("world")`)
	if err != nil {
		panic(err)
	}
	fmt.Println(results[0])
	// Output: hello, world
}

func ExampleState_ProtectedCall() {
	l := lune.New()
	if status := l.Load(strings.NewReader(`error("oops")`), "=chunk", "t"); status != lune.Ok {
		panic("load failed")
	}
	status := l.ProtectedCall(0, 0, 0)
	msg, _ := l.ToString(-1)
	fmt.Println(status == lune.RuntimeError, msg)
	// Output: true chunk:1: oops
}
