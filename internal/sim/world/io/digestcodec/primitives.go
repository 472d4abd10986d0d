package digestcodec

func BoolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
