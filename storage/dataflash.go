package storage

import "fmt"

// DataflashStorage models a NOR/dataflash device: pages can be written only
// after their erase block was erased, except that a written page may be
// overwritten when every changed bit is a 1->0 transition. The driver
// verifies that rule on every write, which lets tests catch any violation
// of the erase-before-write invariant at the device boundary.
//
// The backing store is an in-RAM slab; geometry mirrors common dataflash
// parts (512 B pages in 8-page erase blocks by default).
type DataflashStorage struct {
	data           []byte
	pageSize       int
	capacity       uint32
	eraseBlockSize uint32
	erased         []bool // per page: erased and not yet written
	numErases      uint32
}

// NewDataflashStorage allocates an erased device.
func NewDataflashStorage(capacityPages uint32, pageSize int, eraseBlockPages uint32) *DataflashStorage {
	s := &DataflashStorage{
		data:           make([]byte, int(capacityPages)*pageSize),
		pageSize:       pageSize,
		capacity:       capacityPages,
		eraseBlockSize: eraseBlockPages,
		erased:         make([]bool, capacityPages),
	}
	for i := range s.data {
		s.data[i] = 0xFF
	}
	for i := range s.erased {
		s.erased[i] = true
	}
	return s
}

func (s *DataflashStorage) ReadPage(pageNum uint32, pageSize int, buf []byte) error {
	if pageNum >= s.capacity {
		return ErrPageOutOfRange
	}
	off := int(pageNum) * s.pageSize
	copy(buf[:pageSize], s.data[off:off+pageSize])
	return nil
}

func (s *DataflashStorage) WritePage(pageNum uint32, pageSize int, buf []byte) error {
	if pageNum >= s.capacity {
		return ErrPageOutOfRange
	}
	off := int(pageNum) * s.pageSize
	if !s.erased[pageNum] {
		// Overwrite: every changed bit must clear, never set.
		for i := 0; i < pageSize; i++ {
			old := s.data[off+i]
			if buf[i]&^old != 0 {
				return fmt.Errorf("page %d byte %d %02x->%02x: %w",
					pageNum, i, old, buf[i], ErrOverwriteBits)
			}
		}
	}
	copy(s.data[off:off+pageSize], buf[:pageSize])
	s.erased[pageNum] = false
	return nil
}

func (s *DataflashStorage) Erase(startPage, endPage uint32) error {
	if endPage >= s.capacity || startPage > endPage {
		return ErrPageOutOfRange
	}
	if startPage%s.eraseBlockSize != 0 || (endPage+1)%s.eraseBlockSize != 0 {
		return ErrEraseAlignment
	}
	lo := int(startPage) * s.pageSize
	hi := int(endPage+1) * s.pageSize
	for i := lo; i < hi; i++ {
		s.data[i] = 0xFF
	}
	for p := startPage; p <= endPage; p++ {
		s.erased[p] = true
	}
	s.numErases++
	return nil
}

func (s *DataflashStorage) Close() error {
	return nil
}

func (s *DataflashStorage) CapacityPages() uint32 {
	return s.capacity
}

// NumErases reports how many erase calls the device served.
func (s *DataflashStorage) NumErases() uint32 {
	return s.numErases
}
