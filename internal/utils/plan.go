package utils

// Piece описывает один чанк файла в плане нарезки
type Piece struct {
	Index  int
	Offset int64
	Size   int64
}

// PlanPieces разбивает файл размера totalSize на чанки по chunkSize байт.
// Последний чанк может быть короче. Пустой файл дает один пустой чанк.
func PlanPieces(totalSize, chunkSize int64) []Piece {
	if chunkSize <= 0 {
		return nil
	}

	if totalSize <= 0 {
		return []Piece{{Index: 0, Offset: 0, Size: 0}}
	}

	count := int((totalSize + chunkSize - 1) / chunkSize)
	pieces := make([]Piece, 0, count)

	for i := 0; i < count; i++ {
		offset := int64(i) * chunkSize
		size := chunkSize
		if offset+size > totalSize {
			size = totalSize - offset
		}
		pieces = append(pieces, Piece{Index: i, Offset: offset, Size: size})
	}

	return pieces
}
