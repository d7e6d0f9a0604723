package authz

func resetDefault() {
	mu.Lock()
	defer mu.Unlock()
	global = nil
}

var ResetDefault = resetDefault
