//go:build js && wasm

package main

import (
	"context"
	"syscall/js"

	"messages/pkg/msgclient"
)

func main() {
	js.Global().Set("msgClientInit", js.FuncOf(registerIdentity))
	js.Global().Set("msgClientCreateInvite", js.FuncOf(createInvite))
	js.Global().Set("msgClientAcceptInvite", js.FuncOf(acceptInvite))
	js.Global().Set("msgClientSend", js.FuncOf(send))
	js.Global().Set("msgClientStateInfo", js.FuncOf(stateInfo))
	select {}
}

func registerIdentity(this js.Value, args []js.Value) any {
	return async(func(resolve, reject js.Value) {
		if len(args) == 0 {
			reject.Invoke("missing init options")
			return
		}
		opts := args[0]
		cfg := msgclient.InitOptions{
			DirectoryBaseURL: opts.Get("directoryURL").String(),
			RelayBaseURL:     opts.Get("relayURL").String(),
			UserID:           opts.Get("userID").String(),
			AccessToken:      opts.Get("accessToken").String(),
		}
		state, err := msgclient.RegisterIdentity(context.Background(), cfg)
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		data, err := state.Marshal()
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		out := map[string]any{
			"state":     string(data),
			"userId":    state.UserID(),
			"staticKey": state.IdentityPublic(),
			"relayUrl":  state.RelayBaseURL(),
			"directory": state.DirectoryBaseURL(),
		}
		resolve.Invoke(js.ValueOf(out))
	})
}

func createInvite(this js.Value, args []js.Value) any {
	return async(func(resolve, reject js.Value) {
		if len(args) == 0 {
			reject.Invoke("missing arguments")
			return
		}
		input := args[0]
		state, err := msgclient.LoadStateFromJSON([]byte(input.Get("state").String()))
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		maxUses := 1
		if v := input.Get("maxUses"); !v.IsUndefined() && !v.IsNull() {
			maxUses = v.Int()
		}
		_, link, err := state.CreateInvite(maxUses)
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		stateJSON, err := state.Marshal()
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		resolve.Invoke(js.ValueOf(map[string]any{
			"state": string(stateJSON),
			"link":  link,
		}))
	})
}

func acceptInvite(this js.Value, args []js.Value) any {
	return async(func(resolve, reject js.Value) {
		if len(args) == 0 {
			reject.Invoke("missing arguments")
			return
		}
		input := args[0]
		state, err := msgclient.LoadStateFromJSON([]byte(input.Get("state").String()))
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		peer, err := state.AcceptInvite(context.Background(), input.Get("invite").String())
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		stateJSON, err := state.Marshal()
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		resolve.Invoke(js.ValueOf(map[string]any{
			"state": string(stateJSON),
			"peer":  peer,
		}))
	})
}

func send(this js.Value, args []js.Value) any {
	return async(func(resolve, reject js.Value) {
		if len(args) == 0 {
			reject.Invoke("missing arguments")
			return
		}
		input := args[0]
		state, err := msgclient.LoadStateFromJSON([]byte(input.Get("state").String()))
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		peer := input.Get("peer").String()
		plaintext := input.Get("plaintext").String()
		if err := state.Send(context.Background(), peer, plaintext); err != nil {
			reject.Invoke(err.Error())
			return
		}
		stateJSON, err := state.Marshal()
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		resolve.Invoke(js.ValueOf(map[string]any{
			"state": string(stateJSON),
		}))
	})
}

func stateInfo(this js.Value, args []js.Value) any {
	if len(args) == 0 {
		return nil
	}
	state, err := msgclient.LoadStateFromJSON([]byte(args[0].String()))
	if err != nil {
		return js.Null()
	}
	info := map[string]any{
		"userId":    state.UserID(),
		"staticKey": state.IdentityPublic(),
		"relayUrl":  state.RelayBaseURL(),
		"directory": state.DirectoryBaseURL(),
	}
	return js.ValueOf(info)
}

func async(fn func(resolve, reject js.Value)) js.Value {
	promise := js.Global().Get("Promise")
	handler := js.FuncOf(func(this js.Value, args []js.Value) any {
		resolve := args[0]
		reject := args[1]
		go fn(resolve, reject)
		return nil
	})
	return promise.New(handler)
}
