package surface

const (
	UnmaskedVendorWebGL   = 37445
	UnmaskedRendererWebGL = 37446
)

// WebGLParameter answers a parameter query for both WebGL context versions.
func (a *Adapter) WebGLParameter(pname int, fallback func(int) any) any {
	gl := a.Snapshot().Profile.WebGL
	switch pname {
	case UnmaskedVendorWebGL:
		return gl.Vendor
	case UnmaskedRendererWebGL:
		return gl.Renderer
	}
	if fallback == nil {
		return nil
	}
	return fallback(pname)
}

// AllowContext reports whether a drawing context of kind may be created.
func (a *Adapter) AllowContext(kind string) bool {
	if !a.Snapshot().Privacy.BlockWebGL {
		return true
	}
	return kind != "webgl" && kind != "webgl2"
}
