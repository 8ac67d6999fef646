package shvdata

// Equal implements shvmeta_eq semantics: Meta participates in
// equality, and Int/UInt are never equal to one another even when
// numerically equal, per spec.md §3's invariant.
func Equal(a, b *Value) bool {
	an, bn := a.IsNull(), b.IsNull()
	if an || bn {
		if an != bn {
			return false
		}
		return metaEqual(a, b)
	}
	if a.Kind != b.Kind {
		return false
	}
	if !metaEqual(a, b) {
		return false
	}

	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.boolVal == b.boolVal
	case KindInt:
		return a.intVal == b.intVal
	case KindUInt:
		return a.uintVal == b.uintVal
	case KindDouble:
		return a.doubleVal == b.doubleVal
	case KindDecimal:
		return a.decimalVal == b.decimalVal
	case KindBlob:
		return bytesEqual(a.blobVal, b.blobVal)
	case KindString:
		return a.stringVal == b.stringVal
	case KindDateTime:
		return a.dateTimeVal.Equal(b.dateTimeVal)
	case KindList:
		if len(a.listVal) != len(b.listVal) {
			return false
		}
		for i := range a.listVal {
			if !Equal(a.listVal[i], b.listVal[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.mapVal) != len(b.mapVal) {
			return false
		}
		for k, av := range a.mapVal {
			bv, ok := b.mapVal[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindIMap:
		if len(a.imapVal) != len(b.imapVal) {
			return false
		}
		for k, av := range a.imapVal {
			bv, ok := b.imapVal[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

func metaEqual(a, b *Value) bool {
	aEmpty, bEmpty := a.Meta.IsEmpty(), b.Meta.IsEmpty()
	if aEmpty && bEmpty {
		return true
	}
	if aEmpty != bEmpty {
		return false
	}
	for _, k := range a.Meta.IntKeys() {
		av, _ := a.Meta.GetInt(k)
		bv, ok := b.Meta.GetInt(k)
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	if len(a.Meta.IntKeys()) != len(b.Meta.IntKeys()) {
		return false
	}
	for _, k := range a.Meta.StrKeys() {
		av, _ := a.Meta.GetStr(k)
		bv, ok := b.Meta.GetStr(k)
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return len(a.Meta.StrKeys()) == len(b.Meta.StrKeys())
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
